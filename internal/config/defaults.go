package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultMaxReconnects      = 5
	DefaultHeartbeatInterval  = 15 * time.Second
	DefaultPingTimeout        = 45 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPollInterval       = 10 * time.Second
	DefaultPollTimeout        = 8 * time.Second
	DefaultSettleDelay        = 500 * time.Millisecond
	DefaultStorePath          = "ordersync.db"
	DefaultFeedMaxItems       = 10
)

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnects == 0 {
		c.Connection.MaxReconnects = DefaultMaxReconnects
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	if c.Wallet.SettleDelay == 0 {
		c.Wallet.SettleDelay = DefaultSettleDelay
	}

	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}

	if c.Feed.MaxItems == 0 {
		c.Feed.MaxItems = DefaultFeedMaxItems
	}
}
