package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"peripheral/internal/tools"
)

// cliClient is the usage principal for operator calls made from the shell.
const cliClient = "cli"

var callCmd = &cobra.Command{
	Use:   "call <tool> [key=value ...]",
	Short: "Run one operation and print its envelope",
	Long: `Run one catalogue operation against the configured store and print the
response envelope as JSON. Arguments are key=value pairs; values are passed as
strings and coerced by the operation's schema. The access gate is not applied.

Examples:
  peripheral call health_check
  peripheral call get_latest_briefing hours=48
  peripheral call search_entities name=NATO entity_type=organisation`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	callArgs, err := parseCallArgs(args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := a.dispatcher.Dispatch(context.Background(), tools.Call{
		Name:      args[0],
		Args:      callArgs,
		Principal: cliClient,
	})

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	fmt.Println(string(data))

	if !resp.OK() {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	return nil
}

// parseCallArgs turns key=value pairs into call arguments.
func parseCallArgs(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("argument %q given twice", key)
		}
		out[key] = value
	}
	return out, nil
}
