// Package config provides flexible configuration loading from environment variables
// with support for custom prefixes, automatic type conversion, and .env file loading.
//
// This package follows the twelve-factor app methodology for configuration management,
// allowing applications to be easily configured across different environments without
// code changes. Every ingest package defines its own Config struct with `env` tags and
// loads it through this package, so the whole SDK is configurable from the environment
// under a single prefix.
//
// # Basic Usage
//
// Define a configuration struct with environment variable tags:
//
//	type Config struct {
//	    TokenStoreURL string        `env:"TOKEN_STORE_URL,required"`
//	    Timeout       time.Duration `env:"HTTP_TIMEOUT,default:30s"`
//	    Debug         bool          `env:"DEBUG,default:false"`
//	}
//
// Load configuration from environment variables:
//
//	import "github.com/gobeaver/ingest/config"
//
//	var cfg Config
//	err := config.Load(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Custom Prefixes
//
// Use custom prefixes to avoid environment variable conflicts:
//
//	// Will look for MYAPP_TOKEN_STORE_URL, MYAPP_HTTP_TIMEOUT, ...
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "MYAPP_"})
//
// # Supported Types
//
// The loader automatically converts values for:
//   - string
//   - int, int32, int64, uint, uint64
//   - float32, float64
//   - bool: strconv.ParseBool semantics ("true", "false", "1", "0", ...)
//   - time.Duration: time.ParseDuration syntax ("1h30m", "45s", ...)
//   - []string, []int: comma-separated values, whitespace trimmed
//
// # Field Tags
//
// Configure field behavior inside the `env` tag:
//   - `env:"VAR_NAME"`: the environment variable name
//   - `env:"VAR_NAME,required"`: error when the variable is unset and no default applies
//   - `env:"VAR_NAME,redact"`: the value is masked in debug output
//   - `env:"VAR_NAME,default:v"`: default when unset; consumes the rest of the
//     tag, so defaults for list fields may contain commas
//
// # Environment File Support
//
// A .env file in the current directory is loaded automatically (via
// github.com/joho/godotenv). Real environment variables take precedence over
// .env values.
//
// # Debug Mode
//
// Set INGEST_CONFIG_DEBUG=true or LoadOptions.Debug to print each resolved
// variable. Fields tagged redact print "****" instead of their value.
package config
