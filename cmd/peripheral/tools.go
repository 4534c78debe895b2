package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"peripheral/internal/config"
	"peripheral/internal/query"
	"peripheral/internal/slogutil"
	"peripheral/internal/store"
	"peripheral/internal/tools"
)

var toolsFormat string

var toolsCmd = &cobra.Command{
	Use:   "tools [name]",
	Short: "List the operation catalogue",
	Long: `List every operation with its description. With a name, show that
operation's parameters.

Examples:
  peripheral tools
  peripheral tools search_entities
  peripheral tools --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(toolsCmd)
}

// catalogueForListing builds the catalogue without touching any store.
func catalogueForListing() *tools.Catalogue {
	e := query.NewEngine(store.NewMemory(), config.DefaultConfig().Query, slogutil.NewDiscardLogger())
	return tools.NewDefault(e)
}

func runTools(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(toolsFormat, FormatHuman, FormatJSON, FormatYAML)
	if err != nil {
		return err
	}
	defs := catalogueForListing().Definitions()

	if len(args) > 0 {
		for _, d := range defs {
			if d.Name == args[0] {
				if format != FormatHuman {
					return writeStructured(os.Stdout, d, format)
				}
				return showTool(d)
			}
		}
		return fmt.Errorf("unknown tool %q", args[0])
	}

	if format != FormatHuman {
		return writeStructured(os.Stdout, map[string]interface{}{"tools": defs}, format)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\n", d.Name, firstSentence(d.Description))
	}
	return w.Flush()
}

func showTool(d tools.Definition) error {
	fmt.Printf("%s\n\n%s\n\n", d.Name, d.Description)

	props, _ := d.InputSchema["properties"].(map[string]interface{})
	if len(props) == 0 {
		fmt.Println("No parameters.")
		return nil
	}
	required := map[string]bool{}
	if req, ok := d.InputSchema["required"].([]string); ok {
		for _, r := range req {
			required[r] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMETER\tTYPE\tREQUIRED\tDESCRIPTION")
	for _, name := range names {
		p, _ := props[name].(map[string]interface{})
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", name, p["type"], required[name], p["description"])
	}
	return w.Flush()
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i > 0 {
		return s[:i+1]
	}
	return s
}
