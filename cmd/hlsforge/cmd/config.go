package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/hlsforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hlsforge configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

You can redirect this output to a file to create a configuration template:

  hlsforge config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/hlsforge or ~/.hlsforge)
  - Environment variables (HLSFORGE_SERVER_PORT, HLSFORGE_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the HLSFORGE_ prefix and underscores for nesting.
Example: ingest.max_upload_size -> HLSFORGE_INGEST_MAX_UPLOAD_SIZE`,
	RunE: runConfigDump,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging defaults, the config file and environment variables.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printConfig(cmd, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd, configShowCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and byte sizes in their human-readable forms.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func printConfig(cmd *cobra.Command, cfg *config.Config) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# hlsforge Configuration File")
	fmt.Fprintln(out, "# ============================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# All values shown below are defaults.")
	fmt.Fprintln(out, "# Duration format: 30s, 15m, 2h")
	fmt.Fprintln(out, "# Size format: 64KiB, 4GB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   HLSFORGE_SERVER_HOST, HLSFORGE_SERVER_PORT")
	fmt.Fprintln(out, "#   HLSFORGE_DATABASE_DRIVER, HLSFORGE_DATABASE_DSN")
	fmt.Fprintln(out, "#   HLSFORGE_STORAGE_RESOURCES_DIR, HLSFORGE_FFMPEG_BINARY_PATH")
	fmt.Fprintln(out, "#   HLSFORGE_LOGGING_LEVEL, HLSFORGE_LOGGING_FORMAT")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out)
	return printConfig(cmd, cfg)
}
