// Package server provides the HTTP server of the RDDM API.
//
//   - Server: core server struct with lifecycle management
//   - Config: server configuration with sensible defaults
//   - Router: route registration and middleware chain
//   - Handlers: HTTP request handlers organized by resource
//
// The architecture follows the pattern: CLI → App → Server → Router → Handlers
//
// Usage:
//
//	cfg := server.DefaultConfig()
//	srv, err := server.New(app, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv.Start() // Start background services
//	http.ListenAndServe(":3000", srv.Handler())
package server
