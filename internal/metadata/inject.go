// Package metadata stamps device identity onto outgoing records.
package metadata

import (
	"errors"
	"fmt"

	"fleet-log-router/internal/identity"
	"fleet-log-router/internal/routing/domain"
)

// Record keys written by the injector.
const (
	MetaKey         = "meta"
	DeviceSourceKey = "device_source"
)

// ErrMetaNotMapping is returned for a record whose meta value cannot hold device_source.
var ErrMetaNotMapping = errors.New("metadata: meta is not a mapping")

// Injector adds meta.device_source to records that do not have it yet.
type Injector struct {
	id identity.DeviceIdentity
}

// NewInjector returns an Injector for id.
func NewInjector(id identity.DeviceIdentity) *Injector {
	return &Injector{id: id}
}

// Inject ensures rec carries meta.device_source. An existing meta mapping is extended, never
// replaced, and an existing device_source is left as is. A meta value that is not a mapping
// yields ErrMetaNotMapping and rec is not modified. Reports whether rec was modified.
func (in *Injector) Inject(rec domain.Record) (bool, error) {
	if rec == nil {
		return false, nil
	}
	meta, ok, err := metaOf(rec)
	if err != nil {
		return false, err
	}
	if !ok {
		rec[MetaKey] = map[string]interface{}{DeviceSourceKey: in.deviceSource()}
		return true, nil
	}
	if v, exists := meta[DeviceSourceKey]; exists && v != nil {
		return false, nil
	}
	meta[DeviceSourceKey] = in.deviceSource()
	return true, nil
}

// InjectAll runs Inject on every entry of es in place. Every record is checked first, so on
// error none of them has been modified.
func (in *Injector) InjectAll(es domain.Emission) error {
	for i, e := range es {
		if e.Record == nil {
			continue
		}
		if _, _, err := metaOf(e.Record); err != nil {
			return fmt.Errorf("record %d (tag %q): %w", i, e.Tag, err)
		}
	}
	for i := range es {
		if _, err := in.Inject(es[i].Record); err != nil {
			return err
		}
	}
	return nil
}

// metaOf returns rec's meta mapping; ok is false when meta is absent or nil.
func metaOf(rec domain.Record) (meta map[string]interface{}, ok bool, err error) {
	raw, present := rec[MetaKey]
	if !present || raw == nil {
		return nil, false, nil
	}
	switch m := raw.(type) {
	case map[string]interface{}:
		return m, true, nil
	case domain.Record:
		return m, true, nil
	default:
		return nil, false, fmt.Errorf("%w: got %T", ErrMetaNotMapping, raw)
	}
}

func (in *Injector) deviceSource() map[string]interface{} {
	return map[string]interface{}{
		"host_type":           in.id.HostType,
		"hostname":            in.id.Hostname,
		"organisation_domain": in.id.OrganisationDomain,
		"image_version":       in.id.ImageVersion,
	}
}
