package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reelcut/reelcut/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing reelcut configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  reelcut config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/reelcut, $HOME/.reelcut)
  - Environment variables (REELCUT_SERVER_PORT, REELCUT_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the REELCUT_ prefix and underscores for nesting.
Example: server.port -> REELCUT_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for
// human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults (no file, just defaults)
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# reelcut Configuration File")
	fmt.Println("# ===========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# auth.token_signing_key and auth.credential_master_key are")
	fmt.Println("# required at runtime and have no defaults; both are hex-encoded.")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   REELCUT_SERVER_HOST, REELCUT_SERVER_PORT")
	fmt.Println("#   REELCUT_DATABASE_DRIVER, REELCUT_DATABASE_DSN")
	fmt.Println("#   REELCUT_STORAGE_BASE_DIR, REELCUT_AUTH_TOKEN_SIGNING_KEY")
	fmt.Println("#   REELCUT_LOGGING_LEVEL, REELCUT_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
