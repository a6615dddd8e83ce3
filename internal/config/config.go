package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Lease    LeaseConfig    `mapstructure:"lease"    validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// Backend selects the store implementation: "postgres" for the durable
// deployment, "memory" for local development and demos. URL is required
// for the postgres backend.
type DatabaseConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=postgres memory"`
	URL     string `mapstructure:"url"     validate:"required_if=Backend postgres,omitempty,url"`
}

// LeaseConfig contains the task-leasing engine settings.
// TTLSeconds is how long an unreleased lease lives before the sweep may
// reclaim it; ScanPageSize is the keyset page size of the pending-task scan.
type LeaseConfig struct {
	TTLSeconds   int `mapstructure:"ttl_seconds"    validate:"required,gt=0"`
	ScanPageSize int `mapstructure:"scan_page_size" validate:"required,gt=0,lte=1000"`
}
