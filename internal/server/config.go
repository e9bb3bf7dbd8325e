package server

import "time"

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// CORS settings
	CORSEnabled bool
	CORSOrigins []string

	// Performance settings
	RateLimit int // Write requests per minute per caller (0 to disable)
	CacheTTL  time.Duration

	// Real-time settings
	TopicCapacity  int           // Per-subscriber queue length
	SendTimeout    time.Duration // Bound on a single write to a client
	PingInterval   time.Duration // WebSocket keepalive period
	KeepAlive      time.Duration // SSE comment period
	MaxMessageSize int64         // Largest inbound WebSocket frame
	SweepInterval  time.Duration // How often idle topics are evicted

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           3000,
		PathPrefix:     "/api/v1",
		CORSEnabled:    true,
		CORSOrigins:    []string{},
		RateLimit:      600,
		CacheTTL:       30 * time.Second,
		TopicCapacity:  100,
		SendTimeout:    5 * time.Second,
		PingInterval:   30 * time.Second,
		KeepAlive:      15 * time.Second,
		MaxMessageSize: 1 << 20,
		SweepInterval:  time.Minute,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   0, // streaming responses outlive any fixed write timeout
		IdleTimeout:    120 * time.Second,
		MetricsEnabled: true,
	}
}
