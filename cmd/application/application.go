// Package application provides the application interface for rddm commands.
//
// The Application interface is the contract between the application layer and
// command implementations, so commands can be tested against a mock.
//
// Usage in Commands:
//
//	func NewCommand(app application.Application) *cobra.Command {
//	    return &cobra.Command{
//	        RunE: func(cmd *cobra.Command, args []string) error {
//	            st, err := app.Store()
//	            if err != nil {
//	                return err
//	            }
//	            // ... use st
//	            return nil
//	        },
//	    }
//	}
package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/internal/store"
)

// Application provides what commands need from the running process.
// The App struct from cmd/rddm/app implements it.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Store returns the configured persistence backend. It is opened on
	// first use and shared afterwards.
	Store() (store.Store, error)

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (json or yaml).
	OutputFormat() string

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
