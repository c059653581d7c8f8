package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"smartsales/internal/quality"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding. Path uses JSON key names, e.g.
// "warehouse.orphan_policy.products".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field tags first, then the rules that span fields.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []Issue{{Severity: SeverityError, Path: "", Message: err.Error()}}
		}
		for _, fe := range verrs {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fieldPath(fe),
				Message:  fieldMessage(fe),
			})
		}
	}

	for _, entity := range quality.Entities() {
		p, _ := cfg.InputPath(entity)
		switch strings.ToLower(filepath.Ext(p)) {
		case ".csv", ".xlsx":
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "inputs." + inputKey(entity),
				Message:  fmt.Sprintf("unsupported input format %q (want .csv or .xlsx)", filepath.Ext(p)),
			})
		}
	}

	if cfg.RawDir != "" && filepath.Clean(cfg.RawDir) == filepath.Clean(cfg.PreparedDir) {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Path:     "prepared_dir",
			Message:  "same as raw_dir; prepared files will sit next to the raw inputs",
		})
	}

	if cfg.Metrics.Backend == "pushgateway" && cfg.Metrics.PushgatewayURL == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Path:     "metrics.pushgateway_url",
			Message:  "empty; defaulting to http://localhost:9091",
		})
	}

	if cfg.Warehouse.Kind == "sqlite" && strings.HasPrefix(cfg.Warehouse.DSN, "postgres://") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.dsn",
			Message:  "postgres URL given for kind sqlite",
		})
	}
	return issues
}

func inputKey(entity string) string {
	switch entity {
	case quality.EntityCustomer:
		return "customers"
	case quality.EntityProduct:
		return "products"
	default:
		return "sales"
	}
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("%q is not one of [%s]", fe.Value(), fe.Param())
	case "url":
		return fmt.Sprintf("%q is not a valid URL", fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
