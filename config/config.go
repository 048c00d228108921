package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/stun/v2"
	log "github.com/sirupsen/logrus"
)

// Duration reads "100ms"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Negotiation struct {
	MaxCandidates           int      `toml:"max_candidates"`
	GatherQuiescence        Duration `toml:"gather_quiescence"`
	LocalDescriptionTimeout Duration `toml:"local_description_timeout"`
	NegotiationTimeout      Duration `toml:"negotiation_timeout"`
	BundleMLineIndex        uint32   `toml:"bundle_mline_index"`
}

type ICE struct {
	Servers            []string `toml:"servers"`
	Username           string   `toml:"username"`
	Credential         string   `toml:"credential"`
	CredentialSSMParam string   `toml:"credential_ssm_param"`
	RelayOnly          bool     `toml:"relay_only"`
	UDPPortMin         uint16   `toml:"udp_port_min"`
	UDPPortMax         uint16   `toml:"udp_port_max"`
}

// TURN configures the optional embedded relay.
type TURN struct {
	Enabled      bool   `toml:"enabled"`
	Port         int    `toml:"port"`
	Realm        string `toml:"realm"`
	PublicIP     string `toml:"public_ip"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	RelayMinPort uint16 `toml:"relay_min_port"`
	RelayMaxPort uint16 `toml:"relay_max_port"`
}

type Config struct {
	Environment string `toml:"environment"`
	ListenAddr  string `toml:"listen_addr"`
	StaticDir   string `toml:"static_dir"`
	APIKey      string `toml:"api_key"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	AWSRegion   string `toml:"aws_region"`

	Negotiation Negotiation `toml:"negotiation"`
	ICE         ICE         `toml:"ice"`
	TURN        TURN        `toml:"turn"`
}

func Default() *Config {
	return &Config{
		Environment: "development",
		ListenAddr:  "127.0.0.1:8080",
		StaticDir:   "./static",
		LogLevel:    "info",
		LogFormat:   "text",
		AWSRegion:   "us-east-1",
		Negotiation: Negotiation{
			MaxCandidates:           16,
			GatherQuiescence:        Duration{100 * time.Millisecond},
			LocalDescriptionTimeout: Duration{5 * time.Second},
			NegotiationTimeout:      Duration{10 * time.Second},
		},
		TURN: TURN{
			Port:         3478,
			Realm:        "negotiator",
			RelayMinPort: 49152,
			RelayMaxPort: 49252,
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// any) and then the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	setErr := func(key string, e error) {
		if e != nil && err == nil {
			err = fmt.Errorf("invalid %s: %w", key, e)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, e := strconv.Atoi(v)
			setErr(key, e)
			if e == nil {
				*dst = n
			}
		}
	}
	port := func(key string, dst *uint16) {
		if v, ok := lookup(key); ok && v != "" {
			n, e := strconv.ParseUint(v, 10, 16)
			setErr(key, e)
			if e == nil {
				*dst = uint16(n)
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, e := strconv.ParseBool(v)
			setErr(key, e)
			if e == nil {
				*dst = b
			}
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			setErr(key, dst.UnmarshalText([]byte(v)))
		}
	}

	str("NEGOTIATOR_ENV", &c.Environment)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("STATIC_DIR", &c.StaticDir)
	str("API_KEY", &c.APIKey)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("AWS_REGION", &c.AWSRegion)

	integer("MAX_CANDIDATES", &c.Negotiation.MaxCandidates)
	duration("GATHER_QUIESCENCE", &c.Negotiation.GatherQuiescence)
	duration("LOCAL_DESCRIPTION_TIMEOUT", &c.Negotiation.LocalDescriptionTimeout)
	duration("NEGOTIATION_TIMEOUT", &c.Negotiation.NegotiationTimeout)
	if v, ok := lookup("BUNDLE_MLINE_INDEX"); ok && v != "" {
		n, e := strconv.ParseUint(v, 10, 32)
		setErr("BUNDLE_MLINE_INDEX", e)
		if e == nil {
			c.Negotiation.BundleMLineIndex = uint32(n)
		}
	}

	if v, ok := lookup("ICE_SERVERS"); ok && v != "" {
		c.ICE.Servers = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.ICE.Servers = append(c.ICE.Servers, s)
			}
		}
	}
	str("ICE_USERNAME", &c.ICE.Username)
	str("ICE_CREDENTIAL", &c.ICE.Credential)
	str("ICE_CREDENTIAL_SSM_PARAM", &c.ICE.CredentialSSMParam)
	boolean("ICE_RELAY_ONLY", &c.ICE.RelayOnly)
	port("UDP_PORT_MIN", &c.ICE.UDPPortMin)
	port("UDP_PORT_MAX", &c.ICE.UDPPortMax)

	boolean("TURN_ENABLED", &c.TURN.Enabled)
	integer("TURN_PORT", &c.TURN.Port)
	str("TURN_REALM", &c.TURN.Realm)
	str("TURN_PUBLIC_IP", &c.TURN.PublicIP)
	str("TURN_USERNAME", &c.TURN.Username)
	str("TURN_PASSWORD", &c.TURN.Password)
	port("TURN_RELAY_MIN_PORT", &c.TURN.RelayMinPort)
	port("TURN_RELAY_MAX_PORT", &c.TURN.RelayMaxPort)

	return err
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must be set")
	}
	if c.Negotiation.MaxCandidates <= 0 {
		return fmt.Errorf("MAX_CANDIDATES must be positive, got %d", c.Negotiation.MaxCandidates)
	}
	for name, d := range map[string]Duration{
		"GATHER_QUIESCENCE":         c.Negotiation.GatherQuiescence,
		"LOCAL_DESCRIPTION_TIMEOUT": c.Negotiation.LocalDescriptionTimeout,
		"NEGOTIATION_TIMEOUT":       c.Negotiation.NegotiationTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	for _, raw := range c.ICE.Servers {
		if _, err := stun.ParseURI(raw); err != nil {
			return fmt.Errorf("invalid ICE server %q: %w", raw, err)
		}
	}
	if (c.ICE.UDPPortMin == 0) != (c.ICE.UDPPortMax == 0) || c.ICE.UDPPortMin > c.ICE.UDPPortMax {
		return fmt.Errorf("invalid UDP port range %d-%d", c.ICE.UDPPortMin, c.ICE.UDPPortMax)
	}

	if c.TURN.Enabled {
		if c.TURN.Port <= 0 || c.TURN.Port > 65535 {
			return fmt.Errorf("invalid TURN_PORT %d", c.TURN.Port)
		}
		if c.TURN.Realm == "" {
			return fmt.Errorf("TURN_REALM must be set")
		}
		if c.TURN.Username == "" || c.TURN.Password == "" {
			return fmt.Errorf("TURN_USERNAME and TURN_PASSWORD must be set when TURN_ENABLED")
		}
		if c.TURN.RelayMinPort == 0 || c.TURN.RelayMinPort > c.TURN.RelayMaxPort {
			return fmt.Errorf("invalid TURN relay port range %d-%d", c.TURN.RelayMinPort, c.TURN.RelayMaxPort)
		}
	}
	return nil
}

// Log prints the effective configuration, leaving secrets out.
func (c *Config) Log() {
	logger := log.WithField("src", "config")
	logger.Infof("environment: %s", c.Environment)
	logger.Infof("listen address: %s", c.ListenAddr)
	logger.Infof("static dir: %s", c.StaticDir)
	logger.Infof("candidates: max=%d quiescence=%s bundle-mline=%d",
		c.Negotiation.MaxCandidates, c.Negotiation.GatherQuiescence, c.Negotiation.BundleMLineIndex)
	logger.Infof("ICE servers: %v (relay only: %t)", c.ICE.Servers, c.ICE.RelayOnly)
	if c.TURN.Enabled {
		logger.Infof("embedded TURN on UDP %d, realm %s, user %s", c.TURN.Port, c.TURN.Realm, c.TURN.Username)
	}
}
