// Package config loads job settings for the prepare and warehouse commands.
//
// Values come from SMARTSALES_* environment variables (with defaults), and an
// optional JSON job file is overlaid on top. Only keys present in the file
// override the environment.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"smartsales/internal/quality"
	"smartsales/internal/storage"
	"smartsales/internal/warehouse"
)

// EnvPrefix prefixes every environment variable, e.g. SMARTSALES_DW_KIND.
const EnvPrefix = "SMARTSALES"

// Config is the complete job configuration.
type Config struct {
	Job         string          `json:"job" envconfig:"JOB" default:"smartsales" validate:"required"`
	RawDir      string          `json:"raw_dir" envconfig:"RAW_DIR" default:"data/raw" validate:"required"`
	PreparedDir string          `json:"prepared_dir" envconfig:"PREPARED_DIR" default:"data/prepared" validate:"required"`
	Inputs      Inputs          `json:"inputs" envconfig:"INPUTS"`
	Warehouse   WarehouseConfig `json:"warehouse" envconfig:"DW"`
	Metrics     MetricsConfig   `json:"metrics" envconfig:"METRICS"`
}

// Inputs names the raw file of each entity, relative to RawDir. Files ending
// in .xlsx are read as workbooks.
type Inputs struct {
	Customers string `json:"customers" envconfig:"CUSTOMERS" default:"customers_data.csv" validate:"required"`
	Products  string `json:"products" envconfig:"PRODUCTS" default:"products_data.csv" validate:"required"`
	Sales     string `json:"sales" envconfig:"SALES" default:"sales_data.csv" validate:"required"`

	// Sheet selects the worksheet of .xlsx inputs. Empty means the first.
	Sheet string `json:"sheet" envconfig:"SHEET"`
}

// WarehouseConfig selects the store and the orphan policies.
type WarehouseConfig struct {
	Kind         string             `json:"kind" envconfig:"KIND" default:"sqlite" validate:"required,oneof=sqlite postgres mssql"`
	DSN          string             `json:"dsn" envconfig:"DSN" default:"data/dw/smart_sales.db" validate:"required"`
	OrphanPolicy OrphanPolicyConfig `json:"orphan_policy" envconfig:"ORPHAN"`
}

// OrphanPolicyConfig holds "repair" or "reject" per referenced dimension.
type OrphanPolicyConfig struct {
	Customers string `json:"customers" envconfig:"CUSTOMERS" default:"repair" validate:"oneof=repair reject"`
	Products  string `json:"products" envconfig:"PRODUCTS" default:"reject" validate:"oneof=repair reject"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend        string `json:"backend" envconfig:"BACKEND" default:"none" validate:"oneof=none noop datadog dd pushgateway prometheus"`
	PushgatewayURL string `json:"pushgateway_url" envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	// Tags is a comma-separated list such as "env:prod,team:bi".
	Tags string `json:"tags" envconfig:"TAGS"`
}

// FromEnv reads the environment, applying defaults for unset variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}
	return cfg, nil
}

// Overlay decodes a JSON job file onto cfg. Unknown keys are rejected.
func Overlay(cfg *Config, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode job file: %w", err)
	}
	return nil
}

// Load reads the environment and overlays the JSON file at path when path is
// non-empty.
func Load(path string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read job file: %w", err)
	}
	if err := Overlay(&cfg, data); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// InputPath returns the raw file path of entity.
func (c Config) InputPath(entity string) (string, bool) {
	var name string
	switch entity {
	case quality.EntityCustomer:
		name = c.Inputs.Customers
	case quality.EntityProduct:
		name = c.Inputs.Products
	case quality.EntitySale:
		name = c.Inputs.Sales
	default:
		return "", false
	}
	return filepath.Join(c.RawDir, name), true
}

// Policies converts the configured orphan policies.
func (w WarehouseConfig) Policies() (warehouse.Policies, error) {
	var p warehouse.Policies
	var err error
	if p.Customers, err = warehouse.ParsePolicy(w.OrphanPolicy.Customers); err != nil {
		return p, fmt.Errorf("orphan_policy.customers: %w", err)
	}
	if p.Products, err = warehouse.ParsePolicy(w.OrphanPolicy.Products); err != nil {
		return p, fmt.Errorf("orphan_policy.products: %w", err)
	}
	return p, nil
}

// StorageConfig returns the store selection for storage.New.
func (w WarehouseConfig) StorageConfig() storage.Config {
	return storage.Config{Kind: w.Kind, DSN: w.DSN}
}
