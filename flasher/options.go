package flasher

import "github.com/rs/zerolog"

// Config holds the flasher configuration.
type Config struct {
	// Logger receives structured operation logs (optional)
	Logger zerolog.Logger

	// Progress is called as transfers advance (optional)
	Progress ProgressFunc

	// FrameRetries is the number of retry attempts for a refused or
	// failed frame; the same frame content is resent each time
	FrameRetries int

	// FrameSize caps the transfer frame size. Zero means use the
	// maximum negotiated with the device.
	FrameSize int

	// HandshakeRetries is the number of additional handshake attempts
	// made by Open before surfacing the failure
	HandshakeRetries int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:           zerolog.Nop(),
		FrameRetries:     3,
		HandshakeRetries: 2,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithLogger sets the structured logger for flash and backup operations.
//
// Example:
//
//	fl := flasher.New(session, flasher.WithLogger(log))
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithProgress sets a callback invoked as transfers advance.
//
// Example:
//
//	fl := flasher.New(session, flasher.WithProgress(func(p flasher.Progress) {
//	    fmt.Printf("[%s] %s: %d/%d bytes\n", p.Phase, p.Partition, p.BytesDone, p.BytesTotal)
//	}))
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

// WithFrameRetries sets the per-frame retry budget.
func WithFrameRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.FrameRetries = retries
		}
	}
}

// WithFrameSize caps the transfer frame size. The effective size never
// exceeds the maximum negotiated during the handshake.
func WithFrameSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.FrameSize = size
		}
	}
}

// WithHandshakeRetries sets how many extra handshake attempts Open makes.
func WithHandshakeRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.HandshakeRetries = retries
		}
	}
}
