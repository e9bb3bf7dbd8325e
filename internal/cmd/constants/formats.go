// Package constants provides shared constants for CLI commands.
package constants

// Output format names accepted by --format.
const (
	// FormatTable renders aligned columns. It is the default on terminals.
	FormatTable = "table"

	// FormatJSON outputs data as JSON.
	FormatJSON = "json"

	// FormatYAML outputs data as YAML.
	FormatYAML = "yaml"
)

// Environment variables read by the CLI.
const (
	// EnvPrefix prefixes every configuration variable.
	EnvPrefix = "RDDM"

	// EnvServerURL overrides the server the client commands talk to.
	EnvServerURL = "RDDM_SERVER_URL"
)

// DefaultServerURL is where client commands connect without configuration.
const DefaultServerURL = "http://localhost:3000"
