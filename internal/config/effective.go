package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleet-log-router/internal/identity"
	"fleet-log-router/internal/routing/domain"
)

const (
	DefaultRestHost      = "api.opinsys.fi"
	DefaultRestPort      = 443
	DefaultMaxRecords    = 20
	DefaultForwardPort   = 24224
	DefaultFlushInterval = 10 * time.Second
)

// FactSource supplies identity facts for values missing from the input configuration.
type FactSource interface {
	Fact(name string) (string, error)
	ImageVersion() string
}

// EffectiveConfig is the merged configuration for one router instance. It is not modified after Assemble.
type EffectiveConfig struct {
	HostType     string
	Hostname     string
	Domain       string
	LDAPDN       string
	LDAPPassword string

	RestHost           string
	RestPort           int
	MaxRecordsPerBatch int

	ForwardHost    string
	ForwardPort    int
	ResolveCommand string

	FlushInterval time.Duration

	// Overrides lists the role-matched settings that were applied, in application order.
	Overrides []Setting

	// Target is chosen from HostType before overrides are applied.
	Target domain.TargetKind
	// Identity is what gets stamped into every record's meta.device_source.
	Identity identity.DeviceIdentity
}

// Assemble merges in, identity facts and role-matched override blocks into an EffectiveConfig.
// Explicit input values always win over facts; facts are only read for values that are absent.
// Every error wraps domain.ErrConfig.
func Assemble(in *Config, facts FactSource) (*EffectiveConfig, error) {
	eff, err := withDefaults(in)
	if err != nil {
		return nil, err
	}

	fill := func(dst *string, fact string) error {
		if *dst != "" {
			return nil
		}
		v, err := facts.Fact(fact)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConfig, err)
		}
		*dst = v
		return nil
	}

	if err := fill(&eff.HostType, identity.FactHostType); err != nil {
		return nil, err
	}
	if err := fill(&eff.Hostname, identity.FactHostname); err != nil {
		return nil, err
	}
	if err := fill(&eff.Domain, identity.FactDomain); err != nil {
		return nil, err
	}

	eff.Target = domain.KindForHostType(eff.HostType)
	if domain.NeedsCredentials(eff.HostType) {
		if err := fill(&eff.LDAPDN, identity.FactLDAPDN); err != nil {
			return nil, err
		}
		if err := fill(&eff.LDAPPassword, identity.FactLDAPPassword); err != nil {
			return nil, err
		}
	}

	var matched []Setting
	for _, block := range in.Devices {
		if block.Matches(eff.HostType) {
			matched = append(matched, block.Settings...)
		}
	}
	merged, err := ApplyOverrides(eff, matched)
	if err != nil {
		return nil, err
	}

	if merged.Target == domain.TargetRest && (merged.LDAPDN == "" || merged.LDAPPassword == "") {
		return nil, fmt.Errorf("%w: ldap dn and password are required for host type %q", domain.ErrConfig, merged.HostType)
	}

	merged.Identity = identity.DeviceIdentity{
		HostType:           merged.HostType,
		Hostname:           merged.Hostname,
		OrganisationDomain: merged.Domain,
		ImageVersion:       facts.ImageVersion(),
	}
	return &merged, nil
}

func withDefaults(in *Config) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		HostType:           strings.TrimSpace(in.HostType),
		Hostname:           strings.TrimSpace(in.Hostname),
		Domain:             strings.TrimSpace(in.Domain),
		LDAPDN:             in.LDAPDN,
		LDAPPassword:       in.LDAPPassword,
		RestHost:           in.RestHost,
		RestPort:           in.RestPort,
		MaxRecordsPerBatch: in.MaxRecords,
		ForwardHost:        strings.TrimSpace(in.ForwardHost),
		ForwardPort:        in.ForwardPort,
		ResolveCommand:     in.ResolveCommand,
		FlushInterval:      DefaultFlushInterval,
	}
	if eff.RestHost == "" {
		eff.RestHost = DefaultRestHost
	}
	if eff.RestPort == 0 {
		eff.RestPort = DefaultRestPort
	}
	if eff.MaxRecordsPerBatch == 0 {
		eff.MaxRecordsPerBatch = DefaultMaxRecords
	}
	if eff.ForwardPort == 0 {
		eff.ForwardPort = DefaultForwardPort
	}
	if in.FlushInterval != "" {
		d, err := parseInterval(in.FlushInterval)
		if err != nil {
			return eff, err
		}
		eff.FlushInterval = d
	}
	if eff.MaxRecordsPerBatch < 1 {
		return eff, fmt.Errorf("%w: max records must be at least 1, got %d", domain.ErrConfig, eff.MaxRecordsPerBatch)
	}
	return eff, nil
}

// ApplyOverrides returns a copy of base with settings applied in order; a later setting for the
// same key wins. The target kind is never changed. base is not modified.
func ApplyOverrides(base EffectiveConfig, settings []Setting) (EffectiveConfig, error) {
	out := base
	out.Overrides = append(make([]Setting, 0, len(base.Overrides)+len(settings)), base.Overrides...)

	for _, s := range settings {
		if err := out.set(s.Key, s.Value); err != nil {
			return base, err
		}
		out.Overrides = append(out.Overrides, s)
	}
	return out, nil
}

func (c *EffectiveConfig) set(key, value string) error {
	switch key {
	case "hostname":
		c.Hostname = value
	case "domain":
		c.Domain = value
	case "ldap_dn":
		c.LDAPDN = value
	case "ldap_password":
		c.LDAPPassword = value
	case "rest_host":
		c.RestHost = value
	case "rest_port":
		p, err := parsePort(key, value)
		if err != nil {
			return err
		}
		c.RestPort = p
	case "max_records":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return fmt.Errorf("%w: max_records must be an integer of at least 1, got %q", domain.ErrConfig, value)
		}
		c.MaxRecordsPerBatch = n
	case "forward_host":
		c.ForwardHost = strings.TrimSpace(value)
	case "forward_port":
		p, err := parsePort(key, value)
		if err != nil {
			return err
		}
		c.ForwardPort = p
	case "flush_interval":
		d, err := parseInterval(value)
		if err != nil {
			return err
		}
		c.FlushInterval = d
	case "host_type":
		// Target was chosen from the original host type and stays as is.
		c.HostType = strings.TrimSpace(value)
	default:
		return fmt.Errorf("%w: unknown override key %q", domain.ErrConfig, key)
	}
	return nil
}

func parsePort(key, value string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%w: %s must be a port number, got %q", domain.ErrConfig, key, value)
	}
	return p, nil
}

// parseInterval accepts a Go duration ("30s") or a plain number of seconds ("30").
func parseInterval(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: invalid flush interval %q", domain.ErrConfig, value)
	}
	return d, nil
}
