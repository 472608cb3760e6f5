package docsync

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Bootstrap is everything the authority hands the runtime when a page session starts.
type Bootstrap struct {
	Tags         []string       `toml:"tags"`
	Attrs        []string       `toml:"attrs"`
	EventAttrs   []string       `toml:"event_attrs"`
	BooleanAttrs []string       `toml:"boolean_attrs"`
	IdPrefixes   []string       `toml:"id_prefixes"`
	TaskValues   map[string]int `toml:"task_values"`

	WsUrl string `toml:"ws_url"`
	// initial location of the page
	Uri string `toml:"uri"`

	ReconnectIntervalMillis int  `toml:"ws_reconnect_millis"`
	HeartbeatIntervalMillis int  `toml:"ws_heartbeat_millis"`
	HeartbeatTimeoutMillis  int  `toml:"ws_heartbeat_timeout_millis"`
	Lossless                bool `toml:"lossless"`

	RemovePrevInstanceOnInit  bool `toml:"remove_prev_instance_on_init"`
	RemovePrevInstanceOnClose bool `toml:"remove_prev_instance_on_close"`

	InstanceId string `toml:"instance_id"`
	// per tab writer id for shared storage
	NodeId string `toml:"node_id"`

	// optional signed overlay, see `BootstrapJwt`
	Jwt string `toml:"jwt"`
}

func DefaultBootstrap() *Bootstrap {
	channelSettings := DefaultChannelSettings()
	return &Bootstrap{
		Tags:                      DefaultTags(),
		Attrs:                     DefaultAttrs(),
		EventAttrs:                DefaultEventAttrs(),
		BooleanAttrs:              DefaultBooleanAttrs(),
		IdPrefixes:                DefaultIdPrefixes(),
		Uri:                       "/",
		ReconnectIntervalMillis:   int(channelSettings.ReconnectInterval / time.Millisecond),
		HeartbeatIntervalMillis:   int(channelSettings.HeartbeatInterval / time.Millisecond),
		HeartbeatTimeoutMillis:    int(channelSettings.HeartbeatTimeout / time.Millisecond),
		RemovePrevInstanceOnInit:  true,
		RemovePrevInstanceOnClose: false,
	}
}

// LoadBootstrap reads a toml bootstrap over the defaults.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	return ParseBootstrap(data)
}

func ParseBootstrap(data []byte) (*Bootstrap, error) {
	bootstrap := DefaultBootstrap()
	if err := toml.Unmarshal(data, bootstrap); err != nil {
		return nil, fmt.Errorf("parse bootstrap: %w", err)
	}
	if bootstrap.Jwt != "" {
		bootstrapJwt, err := ParseBootstrapJwtUnverified(bootstrap.Jwt)
		if err != nil {
			return nil, fmt.Errorf("bootstrap jwt: %w", err)
		}
		bootstrapJwt.Apply(bootstrap)
	}
	if err := bootstrap.normalize(); err != nil {
		return nil, err
	}
	return bootstrap, nil
}

func (self *Bootstrap) normalize() error {
	self.WsUrl = strings.TrimSpace(self.WsUrl)
	if self.InstanceId == "" {
		self.InstanceId = NewId().String()
	}
	if self.NodeId == "" {
		self.NodeId = NewId().String()
	}
	if self.ReconnectIntervalMillis <= 0 {
		return fmt.Errorf("ws_reconnect_millis must be positive")
	}
	if self.HeartbeatIntervalMillis < 0 || self.HeartbeatTimeoutMillis < 0 {
		return fmt.Errorf("heartbeat millis must not be negative")
	}
	if len(self.IdPrefixes) == 0 {
		self.IdPrefixes = DefaultIdPrefixes()
	}
	return nil
}

func (self *Bootstrap) Symbols() *Symbols {
	return NewSymbols(self.Tags, self.Attrs, self.EventAttrs, self.BooleanAttrs, self.IdPrefixes)
}

// TaskValueTable uses the default numbering when the bootstrap has none.
func (self *Bootstrap) TaskValueTable() (*TaskValues, error) {
	if len(self.TaskValues) == 0 {
		return DefaultTaskValues(), nil
	}
	return NewTaskValues(self.TaskValues)
}

func (self *Bootstrap) ChannelSettings() *ChannelSettings {
	settings := DefaultChannelSettings()
	settings.ReconnectInterval = time.Duration(self.ReconnectIntervalMillis) * time.Millisecond
	settings.HeartbeatInterval = time.Duration(self.HeartbeatIntervalMillis) * time.Millisecond
	settings.HeartbeatTimeout = time.Duration(self.HeartbeatTimeoutMillis) * time.Millisecond
	settings.Lossless = self.Lossless
	return settings
}
