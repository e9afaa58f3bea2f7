package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/address"
	"github.com/netsblox/cloud/internal/api"
	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/config"
	"github.com/netsblox/cloud/internal/email"
	"github.com/netsblox/cloud/internal/friends"
	"github.com/netsblox/cloud/internal/groups"
	"github.com/netsblox/cloud/internal/health"
	"github.com/netsblox/cloud/internal/lifecycle"
	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/presence"
	"github.com/netsblox/cloud/internal/projects"
	"github.com/netsblox/cloud/internal/ratelimit"
	msgrouter "github.com/netsblox/cloud/internal/router"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/topology"
	"github.com/netsblox/cloud/internal/trace"
	"github.com/netsblox/cloud/internal/tracing"
	"github.com/netsblox/cloud/internal/wsconn"
)

const sessionTTL = 30 * 24 * time.Hour

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "netsblox-cloud",
		Short:        "NetsBlox cloud server",
		SilenceUsage: true,
	}

	var portOverride string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the cloud server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(portOverride)
		},
	}
	serve.Flags().StringVar(&portOverride, "port", "", "listen port (overrides PORT)")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run one pass of the unsaved-project deletion sweeper and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep()
		},
	}

	root.AddCommand(serve, sweep, &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(portOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portOverride != "" {
		cfg.Port = portOverride
	}
	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		return err
	}
	ctx := context.Background()

	if addr := os.Getenv("OTEL_COLLECTOR_ADDR"); addr != "" {
		tp, err := tracing.InitTracer(ctx, "netsblox-cloud", addr)
		if err != nil {
			logging.Error(ctx, "tracing disabled: failed to init exporter", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	memStore := store.NewMemoryStore()
	metadata, err := store.NewCachedMetadataStore(memStore, 1000)
	if err != nil {
		return err
	}
	blobs := store.NewMemoryBlobStore()
	sender := email.NewLogSender()

	presenceSvc, err := presence.NewService(conditionalRedisAddr(cfg), cfg.RedisPassword)
	if err != nil {
		logging.Error(ctx, "presence disabled: redis unavailable", zap.Error(err))
		presenceSvc = nil
	}

	resolver := address.New(metadata)
	topo := topology.New(resolver, metadata)
	recorder := trace.New(metadata)

	lifecycleMgr := lifecycle.New(metadata, blobs, topo)
	topo.SetOnRoomEmpty(lifecycleMgr.OnRoomEmpty)
	topo.SetOnFirstOccupant(func(ctx context.Context, projectID model.ProjectID) {
		proj, err := metadata.GetProject(ctx, projectID)
		if err != nil {
			logging.Warn(ctx, "first-occupant hook: project vanished", zap.String("project_id", string(projectID)), zap.Error(err))
			return
		}
		lifecycleMgr.OnFirstOccupant(ctx, proj)
	})

	router := msgrouter.New(topo, resolver, metadata)
	projectActions := projects.New(metadata, blobs, topo, lifecycleMgr)
	checker := auth.NewChecker(metadata)
	groupsSvc := groups.New(metadata)
	friendsSvc := friends.New(metadata, topo, groupsSvc, presenceSvc, checker)
	oauthClients := auth.NewOAuthClients(metadata)
	magicLinks := auth.NewMagicLinks(metadata, sender)
	sessionIssuer := auth.NewSessionIssuer(cfg.JWTSecret, sessionTTL)

	authorizedHosts := splitNonEmpty(os.Getenv("AUTHORIZED_HOSTS"), ",")
	extractor := auth.NewExtractor(sessionIssuer.Validate, nil, cfg.AuthorizedHostsHeader, authorizedHosts)

	wsServer := wsconn.NewServer(topo, router, lifecycleMgr.MarkBroken)

	rateLimiter, err := ratelimit.New(cfg, presenceSvc.Client())
	if err != nil {
		return err
	}

	healthHandler := health.NewHandler(presenceSvc, memStore)

	srv := &api.Server{
		Metadata:  metadata,
		Blobs:     blobs,
		Checker:   checker,
		Extractor: extractor,
		OAuth:     oauthClients,
		Magic:     magicLinks,
		Session:   sessionIssuer,
		Projects:  projectActions,
		Friends:   friendsSvc,
		Groups:    groupsSvc,
		Trace:     recorder,
		Resolver:  resolver,
		Router:    router,
		Topology:  topo,
		Lifecycle: lifecycleMgr,
		WS:        wsServer,
		Presence:  presenceSvc,
		RateLimit: rateLimiter,
	}
	srv.SetMagicLinkBaseURL(os.Getenv("MAGIC_LINK_BASE_URL"))

	allowedOrigins := splitNonEmpty(cfg.AllowedOrigins, ",")
	engine := api.NewRouter(srv, healthHandler, allowedOrigins, "netsblox-cloud")

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() { lifecycleMgr.Sweep(context.Background()) }); err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	go func() {
		logging.Info(ctx, "cloud server starting", zap.String("port", cfg.Port), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server exited with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "forced shutdown", zap.Error(err))
	}
	return nil
}

// runSweep wires just enough of the dependency graph to run a single
// deletion pass, for operators cleaning up after a restart that lost the
// in-process timers.
func runSweep() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		return err
	}
	ctx := context.Background()

	memStore := store.NewMemoryStore()
	metadata, err := store.NewCachedMetadataStore(memStore, 1000)
	if err != nil {
		return err
	}
	blobs := store.NewMemoryBlobStore()
	resolver := address.New(metadata)
	topo := topology.New(resolver, metadata)
	lifecycle.New(metadata, blobs, topo).Sweep(ctx)
	logging.Info(ctx, "sweep complete")
	return nil
}

func conditionalRedisAddr(cfg *config.Config) string {
	if !cfg.RedisEnabled {
		return ""
	}
	return cfg.RedisAddr
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
