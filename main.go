// Dogwalker dispatches coding tasks from chat mentions to a kennel of
// autonomous agents, tracks each task through its phases, and lands the
// result as a pull request.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dogwalker/pkg/cancel"
	"dogwalker/pkg/chat"
	"dogwalker/pkg/config"
	"dogwalker/pkg/coord"
	"dogwalker/pkg/dog"
	"dogwalker/pkg/github"
	"dogwalker/pkg/kennel"
	"dogwalker/pkg/listener"
	"dogwalker/pkg/logx"
	"dogwalker/pkg/metrics"
	"dogwalker/pkg/persistence"
	"dogwalker/pkg/queue"
	"dogwalker/pkg/relay"
	"dogwalker/pkg/runner"
)

func main() {
	var (
		configPath = flag.String("config", "dogwalker.yaml", "path to config file")
		mode       = flag.String("mode", "all", "what to run: all, listener, or worker")
		history    = flag.Int("history", 0, "print the N most recent task reports and exit")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logx.SetDebug(true, nil)
	}

	if err := run(*configPath, *mode, *history); err != nil {
		fmt.Fprintf(os.Stderr, "dogwalker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, mode string, history int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if history > 0 {
		return printHistory(cfg, history)
	}

	logger := logx.NewLogger("main")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared infrastructure. An empty NATS URL selects the in-process store
	// and queue; listener and worker must then run in the same process.
	store, taskQueue, cleanup, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.NATS.URL == "" && mode != "all" {
		return fmt.Errorf("mode %s requires nats.url so listener and workers can share state", mode)
	}

	selector := kennel.NewSelector(cfg.Dogs, store, cfg.Retention())
	feedbackRelay := relay.New(store, cfg.Retention(), cfg.PollInterval())
	canceller := cancel.NewController(store, cfg.CancelTTL())

	botToken, err := cfg.SlackBotToken()
	if err != nil {
		return err
	}
	appToken, err := cfg.SlackAppToken()
	if err != nil {
		return err
	}
	messenger, err := chat.NewSlackMessenger(botToken, appToken)
	if err != nil {
		return err
	}

	go serveMetrics(cfg.Metrics.ListenAddr, logger)

	errCh := make(chan error, 2)

	if mode == "all" || mode == "worker" {
		apiKey, kerr := cfg.AgentAPIKey()
		if kerr != nil {
			return kerr
		}
		if aerr := github.CheckAuth(ctx); aerr != nil {
			return fmt.Errorf("worker needs an authenticated gh CLI: %w", aerr)
		}
		ghc, perr := github.NewClientFromRepoPath(cfg.GitHub.Repo)
		if perr != nil {
			return perr
		}
		publisher := ghc.WithBase(cfg.GitHub.BaseBranch).WithTimeout(cfg.GitHubTimeout())
		archive, aerr := persistence.Open(cfg.Persistence.DBPath)
		if aerr != nil {
			return aerr
		}
		defer func() { _ = archive.Close() }()

		agent := dog.NewClaudeAgent(apiKey, cfg.Agent.Model)
		taskRunner := runner.New(agent, publisher, messenger, feedbackRelay, canceller, selector, archive, runner.Options{
			RetryBackoff: cfg.RetryBackoff(),
			WorkDir:      cfg.Runner.WorkDir,
		})

		go func() {
			errCh <- taskQueue.Consume(ctx, taskRunner.Run)
		}()
		logger.Info("Worker started with %d dog(s) on %s", len(cfg.Dogs), cfg.GitHub.Repo)
	}

	if mode == "all" || mode == "listener" {
		svc := listener.NewService(selector, feedbackRelay, canceller, taskQueue, messenger)
		go func() {
			errCh <- messenger.Run(ctx, svc)
		}()
		logger.Info("Listener started")
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// buildTransport wires the coordination store and task queue, NATS-backed
// when a URL is configured and in-process otherwise.
func buildTransport(ctx context.Context, cfg *config.Config) (coord.Store, queue.TaskQueue, func(), error) {
	if cfg.NATS.URL == "" {
		q := queue.NewMemoryQueue(64)
		return coord.NewMemoryStore(), q, func() { _ = q.Close() }, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	store, err := coord.NewNatsStore(ctx, nc, cfg.NATS.Bucket, cfg.Retention())
	if err != nil {
		nc.Close()
		return nil, nil, nil, err
	}

	q, err := queue.NewNatsQueue(ctx, nc, cfg.NATS.Stream, cfg.NATS.Subject)
	if err != nil {
		nc.Close()
		return nil, nil, nil, err
	}

	return store, q, func() {
		_ = q.Close()
		nc.Close()
	}, nil
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped: %v", err)
	}
}

// printHistory dumps recent archived reports, with per-phase durations from
// Prometheus when a query endpoint is configured.
func printHistory(cfg *config.Config, limit int) error {
	archive, err := persistence.Open(cfg.Persistence.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	reports, err := archive.ListRecent(ctx, limit)
	if err != nil {
		return err
	}

	var query *metrics.QueryService
	if cfg.Metrics.PrometheusURL != "" {
		if query, err = metrics.NewQueryService(cfg.Metrics.PrometheusURL); err != nil {
			return err
		}
		if counts, cerr := query.GetTerminalCounts(ctx, cfg.Retention()); cerr == nil && len(counts) > 0 {
			fmt.Printf("Terminal outcomes over the last %s:\n", cfg.Retention())
			for status, n := range counts {
				fmt.Printf("    %-10s %4.0f\n", status, n)
			}
			fmt.Println()
		}
	}

	for _, rec := range reports {
		fmt.Printf("%s  %-9s  %-8s  %s\n", rec.FinishedAt.Format(time.RFC3339), rec.Terminal, rec.AgentName, rec.Title)
		if rec.PRURL != "" {
			fmt.Printf("    %s\n", rec.PRURL)
		}
		if query == nil {
			continue
		}
		tm, qerr := query.GetTaskMetrics(ctx, rec.TaskID)
		if qerr != nil {
			continue
		}
		for phase, seconds := range tm.PhaseSeconds {
			fmt.Printf("    %-14s %6.1fs\n", phase, seconds)
		}
	}
	return nil
}
