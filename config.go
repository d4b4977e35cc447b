package zrd

import (
	"errors"
	"fmt"
	"github.com/shimmeringbee/zrd/cc"
	"gopkg.in/yaml.v3"
	"io"
	"time"
)

const (
	DefaultWakeUpInterval    = 4200
	DefaultNodeInfoTimeout   = 65 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultRequestRetries    = 2
	DefaultVersionTimeout    = 60 * time.Second
	DefaultVersionRetries    = 3
	DefaultFindReportTimeout = 100 * time.Millisecond
	DefaultWatchdogInterval  = 1 * time.Minute
)

type GatewayConfig struct {
	NodeID NodeID `yaml:"node_id"`
	HomeID uint32 `yaml:"home_id"`
	SUC    bool   `yaml:"suc"`

	Basic    uint8 `yaml:"basic"`
	Generic  uint8 `yaml:"generic"`
	Specific uint8 `yaml:"specific"`

	CommandClasses       []cc.CommandClass `yaml:"command_classes"`
	SecureCommandClasses []cc.CommandClass `yaml:"secure_command_classes"`
	ControlledClasses    []cc.CommandClass `yaml:"controlled_command_classes"`

	ManufacturerID uint16 `yaml:"manufacturer_id"`
	ProductType    uint16 `yaml:"product_type"`
	ProductID      uint16 `yaml:"product_id"`

	// GrantedKeys lists the network keys held by the gateway: s0, s2_unauthenticated,
	// s2_authenticated and s2_access.
	GrantedKeys []string `yaml:"granted_keys"`
}

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`

	MailboxEnabled bool   `yaml:"mailbox_enabled"`
	WakeUpInterval uint32 `yaml:"wake_up_interval"`

	NodeInfoTimeout   time.Duration `yaml:"node_info_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestRetries    int           `yaml:"request_retries"`
	VersionTimeout    time.Duration `yaml:"version_timeout"`
	VersionRetries    int           `yaml:"version_retries"`
	FindReportTimeout time.Duration `yaml:"find_report_timeout"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`

	RulesFile string `yaml:"rules_file"`
}

var keyNames = map[string]SecurityFlags{
	"s0":                 SecurityS0,
	"s2_unauthenticated": SecurityS2Unauthenticated,
	"s2_authenticated":   SecurityS2Authenticated,
	"s2_access":          SecurityS2Access,
}

func DefaultConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			NodeID:   1,
			SUC:      true,
			Generic:  cc.GenericTypeStaticController,
			Specific: 0x07,
			CommandClasses: []cc.CommandClass{
				cc.ZWavePlusInfo, cc.TransportService, cc.CRC16Encap, cc.Security, cc.Security2, cc.Supervision,
			},
			SecureCommandClasses: []cc.CommandClass{
				cc.Version, cc.ManufacturerSpecific, cc.Powerlevel, cc.Association, cc.MultiChannelAssociation,
				cc.AssociationGroupInfo, cc.DeviceResetLocally, cc.InclusionController,
			},
			ControlledClasses: []cc.CommandClass{cc.Basic, cc.WakeUp, cc.MultiChannel},
		},
		MailboxEnabled:    true,
		WakeUpInterval:    DefaultWakeUpInterval,
		NodeInfoTimeout:   DefaultNodeInfoTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		RequestRetries:    DefaultRequestRetries,
		VersionTimeout:    DefaultVersionTimeout,
		VersionRetries:    DefaultVersionRetries,
		FindReportTimeout: DefaultFindReportTimeout,
		WatchdogInterval:  DefaultWatchdogInterval,
	}
}

// LoadConfig decodes a YAML configuration over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Gateway.NodeID < MinClassicNodeID || c.Gateway.NodeID > MaxClassicNodeID {
		return fmt.Errorf("gateway node id %d: %w", c.Gateway.NodeID, ErrNodeIDOutOfRange)
	}

	for _, k := range c.Gateway.GrantedKeys {
		if _, found := keyNames[k]; !found {
			return fmt.Errorf("unknown granted key: %q", k)
		}
	}

	if c.NodeInfoTimeout <= 0 || c.RequestTimeout <= 0 || c.VersionTimeout <= 0 || c.FindReportTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}

	if c.WatchdogInterval <= 0 {
		return errors.New("watchdog interval must be positive")
	}

	if c.RequestRetries < 0 || c.VersionRetries < 0 {
		return errors.New("retries must not be negative")
	}

	return nil
}

func (g GatewayConfig) grantedKeys() SecurityFlags {
	var flags SecurityFlags

	for _, k := range g.GrantedKeys {
		flags |= keyNames[k]
	}

	return flags
}

// info synthesises the gateway's own node information in endpoint info layout.
func (g GatewayConfig) info() []byte {
	info := []byte{g.Generic, g.Specific}
	info = appendClasses(info, g.CommandClasses)

	if len(g.ControlledClasses) > 0 {
		info = append(info, cc.SupportControlMark)
		info = appendClasses(info, g.ControlledClasses)
	}

	if len(g.SecureCommandClasses) > 0 && g.grantedKeys() != 0 {
		info = cc.AppendSecureList(info, appendClasses(nil, g.SecureCommandClasses))
	}

	return info
}

func appendClasses(b []byte, classes []cc.CommandClass) []byte {
	for _, c := range classes {
		if c.Extended() {
			b = append(b, byte(c>>8), byte(c))
		} else {
			b = append(b, byte(c))
		}
	}

	return b
}
