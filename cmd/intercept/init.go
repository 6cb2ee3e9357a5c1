package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/prasenjit/go-intercept/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize intercept with default configuration and an example bundle",
	Long: `Creates the default configuration file (config.yaml) and a bundles/
directory holding an example bundle.

If config.yaml already exists, it will not be overwritten unless --force is used.`,
	RunE: runInit,
}

const exampleBundle = `id: example
comment: Example interceptions
items:
  - id: health
    method: GET
    uri: https://api.example.com/health
    status: OK
    contentFormat: json
    contentJson:
      status: up
  - id: create-user
    method: POST
    uri: https://api.example.com/users
    status: Created
    responseHeaders:
      Location: ["https://api.example.com/users/${UserID}"]
    contentFormat: json
    contentJson:
      id: "${UserID}"
    templateValues:
      UserID: "42"
`

var (
	initForce bool
	initPath  string
)

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	initCmd.Flags().StringVarP(&initPath, "path", "p", ".", "Path where to initialize (default: current directory)")
}

func runInit(cmd *cobra.Command, args []string) error {
	// Resolve path to absolute
	absPath, err := filepath.Abs(initPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	configFile := filepath.Join(absPath, "config.yaml")
	bundleDir := filepath.Join(absPath, "bundles")
	bundleFile := filepath.Join(bundleDir, "example.yaml")

	// Check if config already exists
	if _, err := os.Stat(configFile); err == nil && !initForce {
		return fmt.Errorf("config.yaml already exists. Use --force to overwrite")
	}

	if err := os.MkdirAll(bundleDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", bundleDir, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created directory: %s\n", bundleDir)

	if _, err := os.Stat(bundleFile); err != nil || initForce {
		if err := os.WriteFile(bundleFile, []byte(exampleBundle), 0644); err != nil {
			return fmt.Errorf("failed to write example bundle: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created bundle: %s\n", bundleFile)
	}

	// Create default config
	cfg := config.Default()
	cfg.Bundles = []string{"bundles/**/*.{json,yaml,yml}"}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	// Add header comment
	header := `# Intercept configuration
# Environment variables override any key, e.g. INTERCEPT_SERVER_PORT=9090

`
	if err := os.WriteFile(configFile, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", configFile)

	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Initialization complete! You can now start the server with:")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "  cd %s\n", absPath)
	fmt.Fprintln(cmd.OutOrStdout(), "  intercept serve")
	fmt.Fprintln(cmd.OutOrStdout())

	return nil
}
