package modem

import (
	"log/slog"
	"time"
)

// Config holds the settings for a Modem instance.
type Config struct {
	// Dialer opens the transport to the modem. Required.
	Dialer Dialer
	// Logger receives structured driver logs. Defaults to slog.Default().
	Logger *slog.Logger
	// ATTimeout is the default timeout for a single AT transaction.
	ATTimeout time.Duration
	// DNSTimeout bounds the wait for the asynchronous DNS result URC.
	DNSTimeout time.Duration
	// ReadyTimeout bounds the wait for the modem's boot-complete URC
	// during bring-up.
	ReadyTimeout time.Duration
	// SettleDelay is the additional fixed delay applied when the ready
	// URC never arrives.
	SettleDelay time.Duration
	// Retry is the default policy for retryable queries.
	Retry RetryPolicy
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.DNSTimeout == 0 {
		c.DNSTimeout = 60 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = RetryPolicy{MaxAttempts: 3, Timeout: 5 * time.Second, BackoffBase: time.Second}
	}
}

// ConfigBuilder assembles a Config fluently and validates it at Build time.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns an empty builder.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets the transport dialer.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

// WithLogger sets the structured logger.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// WithATTimeout sets the default AT transaction timeout.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

// WithDNSTimeout sets the asynchronous DNS result timeout.
func (b *ConfigBuilder) WithDNSTimeout(d time.Duration) *ConfigBuilder {
	b.config.DNSTimeout = d
	return b
}

// WithReadyTimeout sets the boot-complete wait bound.
func (b *ConfigBuilder) WithReadyTimeout(d time.Duration) *ConfigBuilder {
	b.config.ReadyTimeout = d
	return b
}

// WithSettleDelay sets the fallback settle delay used when the ready URC
// never arrives.
func (b *ConfigBuilder) WithSettleDelay(d time.Duration) *ConfigBuilder {
	b.config.SettleDelay = d
	return b
}

// WithRetry sets the default retry policy for retryable queries.
func (b *ConfigBuilder) WithRetry(p RetryPolicy) *ConfigBuilder {
	b.config.Retry = p
	return b
}

// Build validates the assembled configuration and applies defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	c := b.config
	c.setDefaults()
	return c, nil
}
