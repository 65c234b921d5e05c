package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadEnv reads configuration from environment variables without validating
// it. Callers that apply overrides (such as CLI flags) validate afterwards.
func LoadEnv() (*Config, error) {
	cfg := &Config{}

	if err := fill(reflect.ValueOf(cfg).Elem(), os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	return cfg, nil
}

// envTag is the parsed form of a field's env, envAlt, default and required tags.
type envTag struct {
	names    []string
	fallback string
	required bool
}

func parseEnvTag(f reflect.StructField) (envTag, bool) {
	name := f.Tag.Get("env")
	if name == "" {
		return envTag{}, false
	}
	tag := envTag{
		names:    []string{name},
		fallback: f.Tag.Get("default"),
		required: f.Tag.Get("required") == "true",
	}
	if alt := f.Tag.Get("envAlt"); alt != "" {
		tag.names = append(tag.names, alt)
	}
	return tag, true
}

// lookup returns the first non-empty variable among the tag's names, then the
// default. ok is false when neither yields a value.
func (t envTag) lookup(getenv func(string) (string, bool)) (string, bool) {
	for _, n := range t.names {
		if v, _ := getenv(n); v != "" {
			return v, true
		}
	}
	return t.fallback, t.fallback != ""
}

var durationType = reflect.TypeOf(time.Duration(0))

// fill walks v, descending into nested structs, and sets every tagged field.
// All bad values are reported together.
func fill(v reflect.Value, getenv func(string) (string, bool)) error {
	var errs []error

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if sf.Type.Kind() == reflect.Struct {
			if err := fill(fv, getenv); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		tag, ok := parseEnvTag(sf)
		if !ok {
			continue
		}
		raw, ok := tag.lookup(getenv)
		if !ok {
			if tag.required {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", tag.names[0]))
			}
			continue
		}
		if err := assign(fv, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", tag.names[0], raw, err))
		}
	}

	return errors.Join(errs...)
}

// assign parses raw into field according to the field's type.
func assign(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// splitList splits a comma-separated list and drops empty entries.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Drivers lists the accepted DB_DRIVER values.
var Drivers = []string{"sqlite", "postgres", "mysql", "sqlserver", "libsql"}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// problems collects validation failures.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// Validate checks the configuration and reports every failure at once.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.check(db.URL != "", "DATABASE_URL is required")
	p.check(slices.Contains(Drivers, db.Driver), "DB_DRIVER (%q) must be one of: %s", db.Driver, strings.Join(Drivers, ", "))
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	p.check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	imp := c.Import
	p.check(imp.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	p.check(imp.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(imp.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	p.check(imp.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	p.check(imp.PreviewRows > 0, "IMPORT_PREVIEW_ROWS must be positive")
	p.check(imp.ResultRetention >= 0, "IMPORT_RESULT_RETENTION must be non-negative")

	if c.Rate.Enabled {
		p.check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		p.check(c.Rate.ImportLimit > 0, "RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0, "API_KEYS must be set when REQUIRE_API_KEY is true")

	p.check(slices.Contains(logLevels, strings.ToLower(c.Logging.Level)),
		"LOG_LEVEL (%q) must be one of: %s", c.Logging.Level, strings.Join(logLevels, ", "))
	p.check(slices.Contains(logFormats, strings.ToLower(c.Logging.Format)),
		"LOG_FORMAT (%q) must be one of: %s", c.Logging.Format, strings.Join(logFormats, ", "))

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// String returns the config for logging with the database URL masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Host: %q, Port: %d}, "+
		"Database: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Import: {MaxFileSize: %d, MaxConcurrent: %d, Timeout: %s, Profiles: %q}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Server.Host, c.Server.Port,
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns,
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.Timeout, c.Import.ProfilesPath,
		c.Logging.Level, c.Logging.Format)
}
