package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/guardrail/internal/engine"
	"github.com/pankaj-dahiya-devops/guardrail/internal/metrics"
	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/common"
	"github.com/pankaj-dahiya-devops/guardrail/internal/transport/natsub"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Isolate instances for finding events received over NATS",
		Long: `Queue-subscribes to NATS_SUBJECT in group NATS_QUEUE and runs one
isolation per message in the finding's region. Clients for a region other
than AWS_REGION are loaded on first use. Prometheus metrics are
served on METRICS_ADDR at /metrics. SIGINT or SIGTERM drains the
subscription and waits up to NATS_DRAIN_TIMEOUT for isolations already
in progress before exit.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			nc, err := nats.Connect(a.cfg.NATS.URL,
				nats.Name("guardrail"),
				nats.MaxReconnects(-1),
			)
			if err != nil {
				return fmt.Errorf("connect %s: %w", a.cfg.NATS.URL, err)
			}
			defer nc.Close()

			return runServe(cmd.Context(), newProvider(), a, nc)
		},
	}
}

// runServe blocks until ctx is cancelled.
func runServe(ctx context.Context, provider common.AWSClientProvider, a *app, nc natsub.Conn) error {
	pc, err := provider.LoadProfile(ctx, a.cfg.AWS.Profile, a.cfg.AWS.Region)
	if err != nil {
		return err
	}

	prom := metrics.NewPrometheus()
	observers := metrics.Fanout{prom}
	if ns := a.cfg.Metrics.CloudWatchNamespace; ns != "" {
		observers = append(observers, metrics.NewCloudWatch(pc.Clients.CloudWatch, ns, a.log))
	}

	home, err := newOrchestrator(a, pc.Clients, pc.Region, observers)
	if err != nil {
		return err
	}
	router := newRegionRouter(pc.Region, func(ctx context.Context, region string) (*engine.Orchestrator, error) {
		rpc, err := provider.LoadProfile(ctx, a.cfg.AWS.Profile, region)
		if err != nil {
			return nil, err
		}
		return newOrchestrator(a, rpc.Clients, rpc.Region, observers)
	}, a.log)
	router.add(pc.Region, home)

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           metricsMux(prom),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("metrics server shutdown")
		}
	}()

	a.log.Info().
		Str("account_id", pc.AccountID).
		Str("region", pc.Region).
		Str("group_name", a.pol.Quarantine.GroupName).
		Msg("guardrail serving")

	sub := natsub.NewSubscriber(nc, a.cfg.NATS.Subject, a.cfg.NATS.Queue, router, prom, a.log)
	if a.cfg.NATS.DrainTimeout > 0 {
		sub.DrainTimeout = a.cfg.NATS.DrainTimeout
	}
	return sub.Run(ctx)
}

// regionRouter isolates each finding with an orchestrator whose clients
// are scoped to the finding's region. Findings without a region use home.
type regionRouter struct {
	home  string
	build func(ctx context.Context, region string) (*engine.Orchestrator, error)
	log   zerolog.Logger

	mu       sync.Mutex
	byRegion map[string]*engine.Orchestrator
}

func newRegionRouter(home string, build func(context.Context, string) (*engine.Orchestrator, error), log zerolog.Logger) *regionRouter {
	return &regionRouter{
		home:     home,
		build:    build,
		log:      log,
		byRegion: map[string]*engine.Orchestrator{},
	}
}

func (r *regionRouter) add(region string, o *engine.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRegion[region] = o
}

func (r *regionRouter) Isolate(ctx context.Context, f models.Finding) (*engine.Result, error) {
	region := f.Region
	if region == "" {
		region = r.home
	}
	o, err := r.orchestrator(ctx, region)
	if err != nil {
		r.log.Error().Err(err).Str("region", region).Str("finding_id", f.ID).Msg("no clients for finding region")
		return nil, &engine.Error{
			Kind:       engine.KindControlPlane,
			Op:         "load clients for " + region,
			InstanceID: f.InstanceID(),
			Err:        err,
		}
	}
	return o.Isolate(ctx, f)
}

func (r *regionRouter) orchestrator(ctx context.Context, region string) (*engine.Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byRegion[region]; ok {
		return o, nil
	}
	o, err := r.build(ctx, region)
	if err != nil {
		return nil, err
	}
	r.byRegion[region] = o
	r.log.Info().Str("region", region).Msg("loaded clients for region")
	return o, nil
}

func metricsMux(prom *metrics.Prometheus) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
