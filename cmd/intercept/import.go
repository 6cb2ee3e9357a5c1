package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/prasenjit/go-intercept/internal/parser"
)

var importCmd = &cobra.Command{
	Use:   "import OPENAPI_FILE",
	Short: "Generate a bundle from an OpenAPI 3 document",
	Long: `Creates a bundle with one item per operation of an OpenAPI 3 document,
answering with the operation's documented example response.

Operations with path parameters are emitted as skipped items whose URI
holds ${param} placeholders; set templateValues and remove skip to use
them.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("base-url", "", "URL prefixed to every path (default: first absolute server URL)")
	importCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	importCmd.Flags().String("format", "", "Output format: yaml or json (default: from output extension, else yaml)")
}

func runImport(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read OpenAPI document: %w", err)
	}

	baseURL, _ := cmd.Flags().GetString("base-url")
	b, err := parser.NewParser().Parse(content, baseURL)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = "yaml"
		if strings.EqualFold(filepath.Ext(output), ".json") {
			format = "json"
		}
	}

	var data []byte
	switch format {
	case "yaml":
		data, err = yaml.Marshal(b)
	case "json":
		data, err = json.MarshalIndent(b, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d items to %s\n", len(b.Items), output)
	return nil
}
