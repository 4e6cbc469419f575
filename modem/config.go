package modem

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds the settings of a Modem. Use NewConfigBuilder to obtain a
// validated Config with defaults applied.
type Config struct {
	// Dialer opens the byte channel to the modem.
	Dialer Dialer
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// MaxRetries bounds the attempts to get an answer to the first AT.
	MaxRetries int
	// ATTimeout is the default budget of a single AT transaction.
	ATTimeout time.Duration
	// InitTimeout bounds the whole initialization sequence.
	InitTimeout time.Duration
	// FieldTimeout bounds reading one numeric or text field after a prefix.
	FieldTimeout time.Duration
	// ReadTimeout is the default per-byte timeout of socket reads.
	ReadTimeout time.Duration
	// ConnectTimeout is the default budget for AT+CAOPEN.
	ConnectTimeout time.Duration
	// PollInterval is how often a blocked Read refreshes availability.
	PollInterval time.Duration
	// RxBufferSize bounds each socket's receive buffer. Data-ready
	// notifications announcing more than this are treated as malformed.
	RxBufferSize int
	// MaxSendChunk is the largest payload announced in one AT+CASEND.
	MaxSendChunk int
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

// validate expects defaults to be applied, so any value left at or below
// zero was set explicitly.
func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	for name, d := range map[string]time.Duration{
		"ATTimeout":      c.ATTimeout,
		"InitTimeout":    c.InitTimeout,
		"FieldTimeout":   c.FieldTimeout,
		"ReadTimeout":    c.ReadTimeout,
		"ConnectTimeout": c.ConnectTimeout,
		"PollInterval":   c.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s %v: %w", name, d, ErrInvalidConfig)
		}
	}
	for name, n := range map[string]int{
		"MaxRetries":   c.MaxRetries,
		"RxBufferSize": c.RxBufferSize,
		"MaxSendChunk": c.MaxSendChunk,
		"EventBuffer":  c.EventBuffer,
	} {
		if n <= 0 {
			return fmt.Errorf("%s %d: %w", name, n, ErrInvalidConfig)
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.FieldTimeout == 0 {
		c.FieldTimeout = time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 75 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.RxBufferSize == 0 {
		c.RxBufferSize = 1024
	}
	if c.MaxSendChunk == 0 {
		c.MaxSendChunk = 1460
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 100
	}
}

// ConfigBuilder assembles a Config fluently.
//
//	config, err := modem.NewConfigBuilder().
//		WithDialer(modem.SerialDialer{PortName: "/dev/ttyUSB0"}).
//		WithATTimeout(2 * time.Second).
//		Build()
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.MaxRetries = n
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithFieldTimeout(d time.Duration) *ConfigBuilder {
	b.config.FieldTimeout = d
	return b
}

func (b *ConfigBuilder) WithReadTimeout(d time.Duration) *ConfigBuilder {
	b.config.ReadTimeout = d
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithRxBufferSize(n int) *ConfigBuilder {
	b.config.RxBufferSize = n
	return b
}

func (b *ConfigBuilder) WithMaxSendChunk(n int) *ConfigBuilder {
	b.config.MaxSendChunk = n
	return b
}

func (b *ConfigBuilder) WithEventBuffer(n int) *ConfigBuilder {
	b.config.EventBuffer = n
	return b
}

// Build applies defaults and validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
