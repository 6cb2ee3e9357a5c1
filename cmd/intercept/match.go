package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prasenjit/go-intercept/internal/bundle"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/transport"
)

var matchCmd = &cobra.Command{
	Use:   "match METHOD URL",
	Short: "Show which rule answers a request",
	Long: `Registers the given bundles and evaluates a request against them
without touching the network. With --respond the synthesized response is
printed as well.`,
	Example: `  intercept match -b 'bundles/**/*.yaml' GET https://api.example.com/health
  intercept match -b orgs.yaml -H 'Content-Type: application/json' -d '{"name":"x"}' POST https://api.example.com/orgs`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringSliceP("bundle", "b", nil, "Bundle file or glob pattern (repeatable)")
	matchCmd.Flags().StringArrayP("header", "H", nil, "Request header as 'Name: value' (repeatable)")
	matchCmd.Flags().StringP("data", "d", "", "Request body")
	matchCmd.Flags().Bool("respond", false, "Print the synthesized response")
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	patterns, _ := cmd.Flags().GetStringSlice("bundle")
	patterns = append(append([]string(nil), cfg.Bundles...), patterns...)
	if len(patterns) == 0 {
		return fmt.Errorf("no bundles given: use --bundle or the bundles setting")
	}

	reg := registry.New(registry.WithLogger(logger), registry.WithThrowOnMissingRegistration(true))
	if _, err := bundle.NewLoader(bundle.WithLogger(logger)).RegisterFiles(cmd.Context(), reg, patterns...); err != nil {
		return err
	}

	data, _ := cmd.Flags().GetString("data")
	req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(args[0]), args[1], strings.NewReader(data))
	if err != nil {
		return err
	}
	headers, _ := cmd.Flags().GetStringArray("header")
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q: want 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	out := cmd.OutOrStdout()

	rule, ok := reg.Match(req)
	if !ok {
		return fmt.Errorf("no rule matches %s %s", req.Method, req.URL)
	}
	id := rule.ID
	if id == "" {
		id = rule.Key()
	}
	fmt.Fprintf(out, "rule:     %s\n", id)
	if rule.Comment != "" {
		fmt.Fprintf(out, "comment:  %s\n", rule.Comment)
	}
	fmt.Fprintf(out, "priority: %d\n", rule.Priority)

	respond, _ := cmd.Flags().GetBool("respond")
	if !respond {
		return nil
	}

	resp, err := transport.New(reg, transport.WithLogger(logger)).RoundTrip(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintf(out, "\n%s %s\n", resp.Proto, resp.Status)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(out, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintln(out)
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return nil
}
