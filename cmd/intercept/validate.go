package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prasenjit/go-intercept/internal/bundle"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/template"
)

var validateCmd = &cobra.Command{
	Use:   "validate PATTERN...",
	Short: "Check bundle files without registering them",
	Long: `Loads every bundle matched by the given files or glob patterns
(doublestar syntax, e.g. bundles/**/*.yaml) and reports the rules they
define. The first invalid item fails the command with its item id.
Placeholders left without a template value are reported as warnings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	files, err := bundle.Expand(args...)
	if err != nil {
		return err
	}

	loader := bundle.NewLoader(bundle.WithLogger(logger))
	out := cmd.OutOrStdout()

	for _, file := range files {
		result, err := loader.LoadFile(cmd.Context(), file)
		if err != nil {
			return err
		}
		for _, b := range result.Bundles {
			id := b.ID
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(out, "%s: bundle %s, %d rules, %d skipped\n", file, id, len(result.Rules), len(result.Skipped))
		}
		for _, rule := range result.Rules {
			fmt.Fprintf(out, "  %-6s %s -> %d\n", rule.Method, rule.URL(), rule.Status)
			if keys := unresolved(rule); len(keys) > 0 {
				fmt.Fprintf(out, "    warning: no value for %s\n", strings.Join(keys, ", "))
			}
		}
	}

	fmt.Fprintf(out, "%d file(s) valid\n", len(files))
	return nil
}

// unresolved lists placeholders still present in the templated parts of rule
func unresolved(rule *models.MatchRule) []string {
	parts := []string{rule.URI.Host, rule.URI.Path, rule.URI.RawQuery}
	for _, headers := range []map[string][]string{rule.ResponseHeaders, rule.ContentHeaders} {
		for _, values := range headers {
			parts = append(parts, values...)
		}
	}
	return template.NewEngine(nil).Unresolved(strings.Join(parts, "\n"))
}
