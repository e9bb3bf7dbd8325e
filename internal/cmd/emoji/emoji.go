// Package emoji provides symbol constants for CLI output.
package emoji

// Status symbols printed by commands.
const (
	// Success marks a completed operation.
	Success = "✓"

	// Error marks a failed operation.
	Error = "✗"

	// Stop marks a shutdown in progress.
	Stop = "■"

	// Rocket marks a listener coming up.
	Rocket = "🚀"

	// Plug marks a real-time connection being opened.
	Plug = "⇄"
)
