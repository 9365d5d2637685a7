package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/fleetform/console/internal/cache"
	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/faults"
	"github.com/fleetform/console/internal/metrics"
	"github.com/fleetform/console/internal/orchestrator"
	"github.com/fleetform/console/internal/realtime"
	"github.com/fleetform/console/internal/resume"
	"github.com/fleetform/console/internal/session"
	"github.com/fleetform/console/internal/store"
	"github.com/fleetform/console/pkg/api/client"
	"github.com/fleetform/console/pkg/config"
	"github.com/fleetform/console/pkg/logger"
)

func main() {
	repoURL := flag.String("repo", "", "repository URL to deploy")
	projectName := flag.String("project", "", "project name")
	forceResume := flag.Bool("resume", false, "resume an interrupted session without prompting")
	forceRestart := flag.Bool("restart", false, "discard any interrupted session and start fresh")
	flag.Parse()

	cfg := config.LoadConsoleConfig()
	log := logger.New("console", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv := openStore(cfg, log)
	defer kv.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		go serveMetrics(addr, log)
	}

	sessions := session.New(kv, log)
	resumeMgr := resume.New(sessions, log, resume.WithMaxAge(cfg.SessionTTL))

	sess, err := selectSession(ctx, log, sessions, resumeMgr, sessionFlags{
		repoURL:     strings.TrimSpace(*repoURL),
		projectName: strings.TrimSpace(*projectName),
		resume:      *forceResume,
		restart:     *forceRestart,
	})
	if err != nil {
		log.Error("session setup failed", "error", err)
		os.Exit(1)
	}

	srvCache := cache.New(log,
		cache.WithStaleTime(cfg.StaleTime),
		cache.WithMaxRetries(cfg.MaxRetries),
		cache.WithMetrics(m),
	)
	watchFocus(ctx, srvCache)

	api, err := client.New(cfg.APIBaseURL, client.WithToken(cfg.APIToken))
	if err != nil {
		log.Error("invalid api configuration", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(api, sessions, srvCache, log,
		orchestrator.WithStageTimeout(cfg.StageTimeout),
		orchestrator.WithMetrics(m),
	)
	sync := realtime.New(cfg.RealtimeURL, srvCache, log,
		realtime.WithReconnectWait(cfg.ReconnectWait),
		realtime.WithMetrics(m),
	)

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go func() {
		if err := sync.Run(syncCtx, sess.ID); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("push channel closed", "error", err)
		}
	}()

	record, err := orch.Run(ctx, sess)
	stopSync()
	if err != nil {
		reportFailure(ctx, log, sessions, cfg, sess, err)
		os.Exit(1)
	}

	// Terminal success clears the persisted session namespace.
	if err := sessions.Clear(ctx); err != nil {
		log.Warn("failed to clear session state", "error", err)
	}
	log.Info("deployment succeeded", "session_id", sess.ID, "url", record.DeploymentURL)
	fmt.Println(record.DeploymentURL)

	// Completion invalidated the deployments collection; refresh it here so
	// the summary reflects the server's view.
	deployments, err := cache.Fetch(ctx, srvCache, cache.KeyDeployments, func(ctx context.Context) ([]domain.DeploymentRecord, error) {
		return api.ListDeployments(ctx)
	})
	if err != nil {
		log.Warn("failed to refresh deployment list", "error", err)
		return
	}
	fmt.Fprintf(os.Stderr, "%d deployment(s) on record\n", len(deployments))
}

// openStore picks the most durable available backend: Redis when
// configured, the local state database otherwise, plain memory as the last
// resort. Whatever is chosen is wrapped so storage failures degrade to
// memory instead of crashing the pipeline.
func openStore(cfg config.ConsoleConfig, log *slog.Logger) store.KV {
	var primary store.KV
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisKV, err := store.NewRedis(addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis store unavailable, using local state", "error", err)
		} else {
			primary = redisKV
		}
	}
	if primary == nil {
		sqliteKV, err := store.NewSQLite(cfg.StatePath)
		if err != nil {
			log.Warn("state db unavailable, session will not survive restarts", "error", err)
			return store.NewMemory()
		}
		primary = sqliteKV
	}
	return store.NewFallback(primary, log)
}

type sessionFlags struct {
	repoURL     string
	projectName string
	resume      bool
	restart     bool
}

// selectSession offers resume-or-restart for an interrupted session and
// otherwise starts a fresh one with the provided project data.
func selectSession(ctx context.Context, log *slog.Logger, sessions *session.Manager, resumeMgr *resume.Manager, flags sessionFlags) (domain.Session, error) {
	if !flags.restart {
		decision := resumeMgr.Evaluate(ctx)
		if decision.Resumable && (flags.resume || promptResume(decision.Session)) {
			log.Info("resuming session", "session_id", decision.Session.ID, "stage", string(decision.Session.Stage))
			return decision.Session, nil
		}
	}

	sess, err := resumeMgr.Restart(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if flags.repoURL == "" {
		return domain.Session{}, errors.New("repository URL required (-repo)")
	}
	name := flags.projectName
	if name == "" {
		name = projectNameFromRepo(flags.repoURL)
	}
	if err := sessions.StoreProjectData(ctx, flags.repoURL, name); err != nil {
		return domain.Session{}, err
	}
	sess.RepositoryURL = flags.repoURL
	sess.ProjectName = name
	return sess, nil
}

// promptResume asks the user whether to continue the interrupted session.
// Without a terminal the safe default is a restart.
func promptResume(sess domain.Session) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Printf("Interrupted deployment of %s found (stage %s, %d%%). Resume? [Y/n] ",
		sess.ProjectName, sess.Stage, sess.ProgressPercent)
	var answer string
	_, _ = fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "" || answer == "y" || answer == "yes"
}

func projectNameFromRepo(repoURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "project"
	}
	return trimmed
}

// reportFailure classifies the pipeline error and prints categorized
// guidance with any auto-fix candidates.
func reportFailure(ctx context.Context, log *slog.Logger, sessions *session.Manager, cfg config.ConsoleConfig, sess domain.Session, cause error) {
	var stageErr *orchestrator.StageError
	stage := domain.StageIdle
	if errors.As(cause, &stageErr) {
		stage = stageErr.Stage
	}

	count, err := sessions.IncrementRetry(ctx)
	if err != nil {
		log.Warn("failed to persist retry count", "error", err)
	}
	category := faults.Classify(cause)
	advice := faults.Suggest(category, cause, faults.Context{
		RepoURL:      sess.RepositoryURL,
		StageTimeout: cfg.StageTimeout,
		Attempt:      count - 1,
	})

	log.Error("deployment failed", "session_id", sess.ID, "stage", string(stage), "category", string(category), "error", cause)
	fmt.Fprintf(os.Stderr, "\nDeployment failed during %s: %s\n", stage, advice.Message)
	for _, suggestion := range advice.Suggestions {
		fmt.Fprintf(os.Stderr, "  - %s\n", suggestion)
	}
	if advice.Terminal {
		// Past the retry cap the session is terminally failed; a later run
		// must start fresh instead of re-entering the pipeline.
		if err := sessions.TrackStep(ctx, domain.StageFailed); err != nil {
			log.Warn("failed to mark session terminally failed", "error", err)
		}
		fmt.Fprintln(os.Stderr, "\nThis session cannot be retried; run again with -restart.")
		return
	}
	for _, fix := range advice.Fixes {
		fmt.Fprintf(os.Stderr, "  fix: %s\n", fix.Label)
	}
	fmt.Fprintln(os.Stderr, "\nRun again to retry from the failed stage.")
}

// watchFocus treats SIGCONT as the process regaining foreground focus and
// reconciles collection-level cache keys, mirroring a browser tab
// returning to the foreground.
func watchFocus(ctx context.Context, srvCache *cache.Cache) {
	focus := make(chan os.Signal, 1)
	signal.Notify(focus, syscall.SIGCONT)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(focus)
				return
			case <-focus:
				srvCache.HandleSignal(cache.SignalFocus)
			}
		}
	}()
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics server stopped", "error", err)
	}
}
