// Fleetlog-router reads JSON records (one per line) from stdin, stamps them with this machine's
// identity and delivers them every flush interval to the collection API (laptops, boot servers)
// or to the forward-protocol peer (all other host types).
// Configuration comes from the environment, an optional .env file and flags; see internal/config.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"fleet-log-router/internal/config"
	"fleet-log-router/internal/identity"
	"fleet-log-router/internal/logger"
	"fleet-log-router/internal/router"
	"fleet-log-router/internal/routing/domain"
	telemetryotel "fleet-log-router/internal/telemetry/otel"
)

const serviceName = "fleet-log-router"

// newProviders is replaced in tests.
var newProviders = telemetryotel.NewProviders

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	os.Exit(run(cfg))
}

// run returns the process exit code. Deferred cleanup, including the telemetry flush, has
// completed by the time it returns.
func run(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg, err := logger.New(logger.Config{Level: cfg.LogLevel, Output: "stderr"})
	if err != nil {
		log.Printf("logger: %v", err)
		return 1
	}

	facts := identity.NewOSResolver(cfg.IdentityDir, cfg.ImageNameFile)
	eff, err := config.Assemble(cfg, facts)
	if err != nil {
		lg.Error().Err(err).Msg("configuration failed")
		return 1
	}

	providers, err := newProviders(ctx, telemetryotel.ProviderOptions{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Identity:    eff.Identity,
	})
	if err != nil {
		lg.Error().Err(err).Msg("telemetry setup failed")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			lg.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()
	providers.SetGlobal()

	if cfg.OTLPEndpoint != "" {
		bridge := telemetryotel.NewLogBridge(providers.LoggerProvider)
		if lg, err = logger.New(logger.Config{Level: cfg.LogLevel, Output: "stderr"}, bridge); err != nil {
			log.Printf("logger: %v", err)
			return 1
		}
	}
	inst, err := telemetryotel.NewInstruments(providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		lg.Error().Err(err).Msg("telemetry setup failed")
		return 1
	}

	r, err := router.Build(eff, inst, lg)
	if err != nil {
		lg.Error().Err(err).Msg("configuration failed")
		return 1
	}
	defer r.Close()
	if err := r.Prepare(ctx); err != nil {
		lg.Error().Err(err).Msg("configuration failed")
		return 1
	}

	records := make(chan domain.Record, eff.MaxRecordsPerBatch)
	go func() {
		if err := readRecords(ctx, os.Stdin, records, lg); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error().Err(err).Msg("reading input failed")
		}
	}()

	lg.Info().Str("target", r.Kind().String()).Str("tag", cfg.RecordTag).Msg("routing records from stdin")
	pump(ctx, records, r, cfg.RecordTag, eff.FlushInterval, lg)
	lg.Info().Msg("stopped")
	return 0
}
