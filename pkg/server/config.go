package server

import "time"

// Config holds node configuration settings
type Config struct {
	Host        string   // Listen host address
	Port        int      // Listen port
	NodeURL     string   // This node's public URL as it appears in ClusterURLs
	ClusterURLs []string // Fixed cluster topology; defaults to just NodeURL

	DataDir      string // Data directory owned exclusively by this node's engine
	MemtableSize int64  // Memtable flush threshold in bytes

	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	RequestTimeout time.Duration // Per-request budget; replica fan-out gets half of it
	MaxRequestSize int64         // Maximum request body size in bytes
	EnableLogging  bool          // Enable request logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8080,
		NodeURL:        "http://localhost:8080",
		DataDir:        "./data",
		MemtableSize:   4 * 1024 * 1024, // 4MiB
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 20 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableLogging:  true,
	}
}
