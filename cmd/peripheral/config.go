package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"peripheral/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file, .env and
PERIPHERAL_* environment overrides are applied. Credentials are masked.

Examples:
  peripheral config show
  peripheral config show --format toml
  peripheral config show --config ./deploy/peripheral.yaml --format json`,
	RunE: runConfigShow,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	RunE:  runConfigEnv,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "human", "Output format (human, json, yaml, toml)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEnvCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(configFormat, FormatHuman, FormatJSON, FormatYAML, FormatTOML)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	masked := cfg.Masked()

	if format != FormatHuman {
		return writeStructured(os.Stdout, masked, format)
	}

	flat, err := flatten(masked)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, flat[k])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if verr := cfg.Validate(); verr != nil {
		fmt.Fprintf(os.Stderr, "\nwarning: %v\n", verr)
	}
	return nil
}

func runConfigEnv(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tCONFIG KEY\tSET")
	for _, e := range config.EnvVars() {
		_, set := os.LookupEnv(e.Name)
		fmt.Fprintf(w, "%s\t%s\t%v\n", e.Name, e.Key, set)
	}
	return w.Flush()
}

// flatten renders v as dotted keys using its JSON field names.
func flatten(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	out := make(map[string]interface{})
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]interface{}); ok {
				walk(key, sub)
				continue
			}
			out[key] = val
		}
	}
	walk("", tree)
	return out, nil
}
