// Package config loads the router's input configuration from the environment, an optional .env
// file and command-line flags using Viper, and assembles it into an EffectiveConfig.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the raw input configuration. Identity fields left empty are filled from the
// machine's identity facts during Assemble.
type Config struct {
	// HostType is the machine role (e.g. "laptop", "fatclient"); read from the identity directory when empty.
	HostType string `mapstructure:"PUAVO_HOSTTYPE"`
	// Hostname of this machine; read from the identity directory when empty.
	Hostname string `mapstructure:"PUAVO_HOSTNAME"`
	// Domain is the organisation domain; read from the identity directory when empty.
	Domain string `mapstructure:"PUAVO_DOMAIN"`
	// LDAPDN and LDAPPassword authenticate REST deliveries. Only used by laptops and boot servers.
	LDAPDN       string `mapstructure:"PUAVO_LDAP_DN"`
	LDAPPassword string `mapstructure:"PUAVO_LDAP_PASSWORD"`

	// RestHost and RestPort locate the collection API (default api.opinsys.fi:443).
	RestHost string `mapstructure:"REST_HOST"`
	RestPort int    `mapstructure:"REST_PORT"`
	// MaxRecords is the maximum number of records sent in a single HTTP POST (default 20).
	MaxRecords int `mapstructure:"MAX_RECORDS"`

	// ForwardHost is the forward-protocol peer; when empty it is discovered with ResolveCommand.
	ForwardHost string `mapstructure:"FORWARD_HOST"`
	// ForwardPort is the forward-protocol port (default 24224).
	ForwardPort int `mapstructure:"FORWARD_PORT"`
	// ResolveCommand prints the API server URL whose host is used as the forward peer.
	ResolveCommand string `mapstructure:"RESOLVE_COMMAND"`

	// FlushInterval is how often accumulated records are emitted (e.g. "10s").
	FlushInterval string `mapstructure:"FLUSH_INTERVAL"`
	// RecordTag is the tag attached to records read from stdin.
	RecordTag string `mapstructure:"RECORD_TAG"`

	// IdentityDir holds the identity fact files (default /etc/puavo).
	IdentityDir string `mapstructure:"IDENTITY_DIR"`
	// ImageNameFile contains the installed image name; may be absent.
	ImageNameFile string `mapstructure:"IMAGE_NAME_FILE"`
	// OverridesFile is an optional YAML document with role-matched override blocks.
	OverridesFile string `mapstructure:"OVERRIDES_FILE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// OTLPEndpoint enables OTLP export of traces, metrics and logs when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Devices are the override blocks read from OverridesFile, in document order.
	Devices []OverrideBlock `mapstructure:"-"`
}

// flagKeys maps command-line flag names to the configuration key they set.
var flagKeys = map[string]string{
	"config-overrides": "OVERRIDES_FILE",
	"tag":              "RECORD_TAG",
	"log-level":        "LOG_LEVEL",
	"hosttype":         "PUAVO_HOSTTYPE",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config-overrides", "", "YAML file with role-matched override blocks")
	fs.String("tag", "", "tag attached to records read from stdin")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("hosttype", "", "host type; overrides the identity directory")
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Flags in fs that were set on the command line win over the environment. fs may be nil.
// If OVERRIDES_FILE is set, its override blocks are parsed into Devices.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("PUAVO_HOSTTYPE", "")
	v.SetDefault("PUAVO_HOSTNAME", "")
	v.SetDefault("PUAVO_DOMAIN", "")
	v.SetDefault("PUAVO_LDAP_DN", "")
	v.SetDefault("PUAVO_LDAP_PASSWORD", "")
	v.SetDefault("REST_HOST", DefaultRestHost)
	v.SetDefault("REST_PORT", DefaultRestPort)
	v.SetDefault("MAX_RECORDS", DefaultMaxRecords)
	v.SetDefault("FORWARD_HOST", "")
	v.SetDefault("FORWARD_PORT", DefaultForwardPort)
	v.SetDefault("RESOLVE_COMMAND", "puavo-resolve-api-server")
	v.SetDefault("FLUSH_INTERVAL", "10s")
	v.SetDefault("RECORD_TAG", "puavo")
	v.SetDefault("IDENTITY_DIR", "/etc/puavo")
	v.SetDefault("IMAGE_NAME_FILE", "/etc/ltsp/this_ltspimage_name")
	v.SetDefault("OVERRIDES_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.MaxRecords < 1 {
		return nil, errors.New("config: MAX_RECORDS must be at least 1")
	}
	if cfg.RestPort < 1 || cfg.RestPort > 65535 {
		return nil, errors.New("config: REST_PORT must be between 1 and 65535")
	}
	if cfg.ForwardPort < 1 || cfg.ForwardPort > 65535 {
		return nil, errors.New("config: FORWARD_PORT must be between 1 and 65535")
	}

	if cfg.OverridesFile != "" {
		blocks, err := LoadOverrides(afero.NewOsFs(), cfg.OverridesFile)
		if err != nil {
			return nil, err
		}
		cfg.Devices = blocks
	}

	return &cfg, nil
}
