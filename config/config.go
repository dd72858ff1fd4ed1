package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadOptions defines options for loading configuration from environment variables.
type LoadOptions struct {
	Prefix string // Prefix to prepend to environment variable names (default: "INGEST_")
	Debug  bool   // Enable debug output of the configuration loading process
}

// Load populates a struct from .env files and environment variables using reflection.
// A .env file in the current directory is loaded first (existing environment
// variables take precedence), then struct fields are filled from the environment.
//
// The function uses struct field tags to determine environment variable names:
//   - `env:"VAR_NAME"`: Maps the field to the specified environment variable
//   - `env:"VAR_NAME,required"`: Loading fails if the variable is unset and no default applies
//   - `env:"VAR_NAME,redact"`: The value is masked in debug output
//   - `env:"VAR_NAME,default:value"`: Provides a default value if the variable is unset.
//     The default consumes the rest of the tag, so list defaults may contain commas.
//
// Environment variable names are automatically prefixed with the value specified
// in LoadOptions.Prefix (defaults to "INGEST_").
//
// Example:
//
//	type Config struct {
//	    TokenStoreURL string        `env:"TOKEN_STORE_URL,required,redact"`
//	    Timeout       time.Duration `env:"HTTP_TIMEOUT,default:30s"`
//	    QPS           float64       `env:"QPS,default:5"`
//	    Scopes        []string      `env:"SCOPES,default:openid,profile,email"`
//	}
//
//	var cfg Config
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "MYAPP_"})
//	// Will look for MYAPP_TOKEN_STORE_URL, MYAPP_HTTP_TIMEOUT, ...
func Load(cfg interface{}, opts ...LoadOptions) error {
	options := LoadOptions{Prefix: "INGEST_"} // Default
	if len(opts) > 0 {
		options = opts[0]
	}
	// Silently try to load .env file, ignore if not found
	godotenv.Load()

	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: Load requires a pointer to a struct, got %T", cfg)
	}
	v = v.Elem()
	t := v.Type()
	printDebug := options.Debug || os.Getenv("INGEST_CONFIG_DEBUG") == "true"

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" || !field.IsExported() {
			continue
		}

		envName, tagOpts := parseTag(envTag)

		// Apply prefix to environment variable name
		fullEnvName := options.Prefix + envName
		value := os.Getenv(fullEnvName)
		if value == "" {
			value = tagOpts.defaultValue
		}
		if value == "" && tagOpts.required {
			return fmt.Errorf("config: required environment variable %s is not set", fullEnvName)
		}
		if printDebug {
			shown := value
			if tagOpts.redact && shown != "" {
				shown = "****"
			}
			fmt.Printf("[INGEST] %s=%s\n", fullEnvName, shown)
		}

		if value != "" {
			if err := setFieldValue(v.Field(i), value); err != nil {
				return fmt.Errorf("config: %s: %w", fullEnvName, err)
			}
		}
	}

	return nil
}

type tagOptions struct {
	defaultValue string
	required     bool
	redact       bool
}

// parseTag splits an env tag into the variable name and its options. The
// default option consumes the remainder of the tag so that defaults for
// slice-valued fields can themselves contain commas.
func parseTag(tag string) (string, tagOptions) {
	name, rest, _ := strings.Cut(tag, ",")
	var opts tagOptions
	for rest != "" {
		if after, ok := strings.CutPrefix(rest, "default:"); ok {
			opts.defaultValue = after
			break
		}
		var opt string
		opt, rest, _ = strings.Cut(rest, ",")
		switch opt {
		case "required":
			opts.required = true
		case "redact":
			opts.redact = true
		}
	}
	return name, opts
}

// setFieldValue sets the value of a struct field using reflection and type
// conversion from the string environment variable value.
//
// Supported types: string, int, int64, uint, uint64, float64, bool,
// time.Duration, []string (comma-separated), []int (comma-separated).
func setFieldValue(field reflect.Value, value string) error {
	// Check for time.Duration first
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Float64, reflect.Float32:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		return setSliceValue(field, value)
	default:
		// Skip unsupported field types silently
		return nil
	}
	return nil
}

// setSliceValue fills a slice field from a comma-separated string. Elements
// are trimmed of surrounding whitespace; empty elements are dropped.
func setSliceValue(field reflect.Value, value string) error {
	parts := strings.Split(value, ",")
	elems := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			elems = append(elems, p)
		}
	}

	switch field.Type().Elem().Kind() {
	case reflect.String:
		field.Set(reflect.ValueOf(elems))
	case reflect.Int:
		ints := make([]int, 0, len(elems))
		for _, e := range elems {
			n, err := strconv.Atoi(e)
			if err != nil {
				return err
			}
			ints = append(ints, n)
		}
		field.Set(reflect.ValueOf(ints))
	default:
		return fmt.Errorf("unsupported slice element type %s", field.Type().Elem())
	}
	return nil
}
