// Package intake consumes the object store's notification stream. Every
// upload that lands in the pending location becomes a content item and a
// moderation attempt; there is no synchronous HTTP path for images.
package intake

// Config holds configuration for the storage event consumer.
type Config struct {
	// Endpoints is a list of WebSocket URLs for the storage event stream
	// (with fallback rotation).
	Endpoints []string

	// Compress enables zstd-compressed event frames.
	Compress bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Compress: false,
	}
}
