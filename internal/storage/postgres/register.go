package postgres

import "smartsales/internal/storage"

func init() {
	// registers the warehouse backend factory
	storage.Register("postgres", Open)
}
