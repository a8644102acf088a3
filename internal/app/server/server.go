package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"osb-tracker/internal/api"
	"osb-tracker/internal/config"
	"osb-tracker/internal/connectivity"
	"osb-tracker/internal/device"
	"osb-tracker/internal/storage"
	"osb-tracker/internal/tracker"
	"osb-tracker/internal/transport"
)

// Agent is a tracker with its storage, connectivity monitor and HTTP surface.
type Agent struct {
	cfg     config.Config
	kv      storage.KV
	monitor *connectivity.Monitor
	Tracker *tracker.Tracker
}

func New(ctx context.Context, cfg config.Config) (*Agent, error) {
	kv, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	prober := connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.Mode, cfg.DeliveryTimeout())
	monitor := connectivity.NewMonitor(prober, cfg.PollInterval())

	dev := device.FromConfig(cfg)
	if path := cfg.Device.ProfilePath; path != "" {
		profile, err := device.LoadProfile(path)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		profile.Apply(dev)
		log.Info().Str("path", path).Msg("device profile loaded")
	}

	tr := tracker.New(tracker.Deps{
		KV:           kv,
		Deliverer:    transport.NewHTTP(cfg.Tracker.UserAgent, cfg.DeliveryTimeout()),
		Connectivity: monitor,
		Device:       dev,
	},
		tracker.WithProtocolVersion(cfg.Tracker.ProtocolVersion),
		tracker.WithDeliveryTimeout(cfg.DeliveryTimeout()),
	)
	tr.SetDebug(cfg.Tracker.Debug)
	tr.SetNamespaces(cfg.Tracker.Namespaces...)

	return &Agent{cfg: cfg, kv: kv, monitor: monitor, Tracker: tr}, nil
}

func (a *Agent) Handler() http.Handler {
	return api.Router(api.NewTrackerHandler(a.Tracker))
}

// Start configures the tracker when the account is set in config and runs
// the connectivity loops until ctx is done.
func (a *Agent) Start(ctx context.Context) {
	go a.monitor.Run(ctx)
	go a.Tracker.Run(ctx)

	t := a.cfg.Tracker
	if t.AccountID == "" || t.URL == "" {
		log.Warn().Msg("tracker account not configured; waiting for /v1/configure")
		return
	}
	a.Tracker.Configure(ctx, t.AccountID, t.URL, t.SiteID)
	go func() {
		if err := a.Tracker.ConsentManager().FetchRemoteCMPVersion(ctx, t.AccountID, t.SiteID); err != nil {
			log.Warn().Err(err).Msg("cmp version check")
		}
	}()
}

// Close persists the queue and releases storage.
func (a *Agent) Close(ctx context.Context) {
	a.Tracker.Shutdown(ctx)
	if err := a.kv.Close(); err != nil {
		log.Error().Err(err).Msg("close storage")
	}
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent, err := New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init agent")
	}
	agent.Start(rootCtx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      agent.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel() // stop background goroutines
	agent.Close(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
