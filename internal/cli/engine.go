package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"yt-transcripts/internal/cache"
	"yt-transcripts/internal/chain"
	"yt-transcripts/internal/config"
	"yt-transcripts/internal/harvest"
	"yt-transcripts/internal/logging"
	"yt-transcripts/internal/metrics"
	"yt-transcripts/internal/output"
	"yt-transcripts/internal/runstore"
	"yt-transcripts/internal/tier"
)

const sessionLogFile = "session.log"

type runFlags struct {
	tui         bool
	noCache     bool
	concurrency int
	outputRoot  string
	metrics     string
}

// engine holds everything a session run needs besides the session itself.
type engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	tiers   []tier.Tier
	skipped []string
	cache   *cache.Store
}

func newEngine(cfg *config.Config, logger *slog.Logger, flags runFlags) (*engine, error) {
	tiers, skipped := cfg.BuildTiers(logger.With("component", "config"))
	if len(tiers) == 0 {
		return nil, errors.New("no extraction tier available; enable captions or configure proxy urls or a managed api key")
	}
	e := &engine{cfg: cfg, logger: logger, tiers: tiers, skipped: skipped}
	if cfg.Cache.Enabled && !flags.noCache {
		store, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		e.cache = store
	}
	return e, nil
}

// TierNames lists the built tiers in chain order.
func (e *engine) TierNames() []string {
	names := make([]string, 0, len(e.tiers))
	for _, t := range e.tiers {
		names = append(names, t.Name())
	}
	return names
}

// newPolicy builds the chain for one session so that its tier-disable
// warnings land in that session's log.
func (e *engine) newPolicy(logger *slog.Logger) *chain.Policy {
	return chain.New(e.tiers,
		chain.WithRetry(e.cfg.RetryConfig()),
		chain.WithLogger(logger.With("component", "chain")),
		chain.WithObserver(metrics.Recorder{}),
	)
}

func (e *engine) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

// runSession drives one session to completion. The first interrupt asks the
// workers to stop after their current tier attempt; the second cancels everything.
func (c *commandContext) runSession(ctx context.Context, e *engine, sess *runstore.Session, flags runFlags) (harvest.Result, error) {
	logger := e.logger
	handler, logFile, err := logging.SessionFile(sess.Dir(), sessionLogFile, slog.LevelDebug)
	if err != nil {
		return harvest.Result{}, err
	}
	defer logFile.Close()
	logger = logging.TeeLogger(logger, handler)
	policy := e.newPolicy(logger)
	logger.Info("extraction chain ready", "tiers", policy.TierNames(), "skipped", e.skipped)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recent := newEventLog(8)
	printer := newLinePrinter(c.stdout)
	onEvent := func(ev harvest.Event) {
		recent.Add(ev)
		if !flags.tui && !c.jsonFlag {
			printer.Print(ev)
		}
	}

	opts := harvest.Options{
		Session:      sess,
		Extractor:    policy,
		Writer:       output.NewWriter(),
		Concurrency:  e.cfg.Run.Concurrency,
		MaxRequeues:  e.cfg.Run.MaxRequeues,
		RequeueDelay: e.cfg.RequeueDelay(),
		OnEvent:      onEvent,
		Logger:       logger,
		Metrics:      metrics.Recorder{},
	}
	if e.cache != nil {
		opts.Cache = e.cache
	}
	h, err := harvest.Start(runCtx, opts)
	if err != nil {
		return harvest.Result{}, err
	}

	if addr := e.cfg.Metrics.Listen; addr != "" {
		srv := metrics.NewServer(addr, sess.Counters, logger)
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Warn("metrics server stopped", "addr", addr, "error", err)
			}
		}()
	}

	stopSignals := watchSignals(h, cancel, logger)
	defer stopSignals()
	if flags.tui {
		if err := runDashboard(h, cancel, recent); err != nil {
			logger.Warn("dashboard failed; continuing without it", "error", err)
		}
	}

	return h.Wait()
}

func watchSignals(h *harvest.Handle, cancel context.CancelFunc, logger *slog.Logger) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})
	go func() {
		interrupts := 0
		for {
			select {
			case <-ch:
				interrupts++
				if interrupts == 1 {
					logger.Warn("interrupt received; finishing in-flight items (interrupt again to abort)")
					h.RequestStop()
					continue
				}
				logger.Warn("second interrupt; aborting")
				cancel()
				return
			case <-h.Done():
				return
			case <-quit:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(quit)
	}
}

func resolveRoot(cfg *config.Config, flags runFlags) (string, error) {
	if flags.outputRoot == "" {
		return cfg.Run.OutputRoot, nil
	}
	root, err := config.ExpandPath(flags.outputRoot)
	if err != nil {
		return "", fmt.Errorf("output root: %w", err)
	}
	return root, nil
}

func applyRunFlags(cfg *config.Config, flags runFlags) error {
	if flags.concurrency > 0 {
		cfg.Run.Concurrency = flags.concurrency
	}
	if flags.metrics != "" {
		cfg.Metrics.Listen = flags.metrics
	}
	root, err := resolveRoot(cfg, flags)
	if err != nil {
		return err
	}
	cfg.Run.OutputRoot = root
	return nil
}
