// Package router hands emissions to the single delivery target chosen at configuration time.
package router

import (
	"context"
	"fmt"

	"fleet-log-router/internal/config"
	"fleet-log-router/internal/delivery"
	"fleet-log-router/internal/delivery/forward"
	"fleet-log-router/internal/delivery/rest"
	"fleet-log-router/internal/discovery"
	"fleet-log-router/internal/logger"
	"fleet-log-router/internal/metadata"
	"fleet-log-router/internal/routing/domain"
	telemetryotel "fleet-log-router/internal/telemetry/otel"
)

// preparer is implemented by targets that have startup work, such as resolving their peer.
type preparer interface {
	Prepare(ctx context.Context) error
}

// Router stamps device metadata on every record and delivers emissions to its target.
// It keeps no per-record state.
type Router struct {
	target   delivery.Target
	injector *metadata.Injector
	log      logger.Logger
}

// New returns a Router over target.
func New(target delivery.Target, injector *metadata.Injector, log logger.Logger) *Router {
	return &Router{target: target, injector: injector, log: log.WithComponent("router")}
}

// Build creates the Router for eff: a REST deliverer for laptops and boot servers, a forward
// transport for everything else.
func Build(eff *config.EffectiveConfig, inst *telemetryotel.Instruments, log logger.Logger) (*Router, error) {
	var (
		target delivery.Target
		err    error
	)
	switch eff.Target {
	case domain.TargetRest:
		target, err = rest.New(rest.Options{
			Host:       eff.RestHost,
			Port:       eff.RestPort,
			DN:         eff.LDAPDN,
			Password:   eff.LDAPPassword,
			MaxRecords: eff.MaxRecordsPerBatch,
		}, inst, log)
	case domain.TargetForward:
		var resolver discovery.AddressResolver
		if eff.ForwardHost != "" {
			resolver = discovery.StaticResolver{Host: eff.ForwardHost}
		} else {
			resolver = discovery.NewCommandResolver(eff.ResolveCommand, log)
		}
		target, err = forward.New(forward.Options{Resolver: resolver, Port: eff.ForwardPort}, inst, log)
	default:
		return nil, fmt.Errorf("%w: no delivery target for host type %q", domain.ErrConfig, eff.HostType)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("I'm a %s so I'm using %s", eff.HostType, target.Kind())
	log.Info().Dur("flush_interval", eff.FlushInterval).Msg("flush interval")
	return New(target, metadata.NewInjector(eff.Identity), log), nil
}

// Kind reports the active target variant.
func (r *Router) Kind() domain.TargetKind {
	return r.target.Kind()
}

// Prepare runs the target's startup work, if it has any. Errors are configuration errors.
func (r *Router) Prepare(ctx context.Context) error {
	if p, ok := r.target.(preparer); ok {
		return p.Prepare(ctx)
	}
	return nil
}

// Emit injects device metadata into every record of es and delivers es to the target. If any
// record cannot carry the metadata, nothing is delivered.
func (r *Router) Emit(ctx context.Context, es domain.Emission) error {
	for _, e := range es {
		r.log.Debug().Str("tag", e.Tag).Interface("record", e.Record).Msg("emit")
	}
	if err := r.injector.InjectAll(es); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := r.target.Deliver(ctx, es); err != nil {
		return fmt.Errorf("router: deliver to %s: %w", r.target.Kind(), err)
	}
	return nil
}

// Close releases the target.
func (r *Router) Close() error {
	return r.target.Close()
}
