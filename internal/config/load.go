package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
//
// Environment variables use the LABELQ_ prefix with underscores for
// nesting, e.g. LABELQ_DATABASE_URL, LABELQ_LEASE_TTL_SECONDS.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory or /etc/labelq.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/labelq")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults cover everything.
	}

	v.SetEnvPrefix("LABELQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers the default value for every setting so a bare
// environment still yields a runnable (memory-backend) configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.url", "")
	// The default lease TTL mirrors the annotation lock timeout the
	// platform has always shipped with.
	v.SetDefault("lease.ttl_seconds", 300)
	v.SetDefault("lease.scan_page_size", 50)
}

// validate runs struct validation and converts validator errors into a
// readable configuration error.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				details = append(details,
					fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(details, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
