package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"localmind/config"
	"localmind/internal/agent"
	"localmind/internal/inference"
	"localmind/internal/sandbox"
	"localmind/internal/server"
	"localmind/internal/session"
	"localmind/internal/store"
	"localmind/internal/telemetry"
	"localmind/internal/tools/fileindex"
	"localmind/internal/tools/webfetch"
	"localmind/internal/tools/websearch"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(log.Writer(), "[SERVE] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			provider, err := inference.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			if err := provider.Ping(ctx); err != nil {
				logger.Printf("provider %s not reachable yet: %v", provider.Name(), err)
			}

			tel := telemetry.New(cfg.Telemetry, prometheus.DefaultRegisterer)

			var st *store.Store
			if cfg.Storage.Postgres.URL != "" || cfg.Storage.Postgres.Host != "" {
				st, err = store.New(ctx, cfg.Storage.Postgres)
				if err != nil {
					return err
				}
				defer st.Close()
			} else {
				logger.Printf("postgres not configured, runs will not be persisted")
			}

			var sessions session.Repository
			var rdb *redis.Client
			if cfg.Storage.Redis.Host != "" {
				repo, err := session.NewRedisRepository(ctx, cfg.Storage.Redis, cfg.Session)
				if err != nil {
					return err
				}
				sessions = repo
				rdb = repo.Client()
			} else {
				logger.Printf("redis not configured, sessions are kept in memory")
				sessions = session.NewMemoryRepository()
			}
			comp := session.NewCompressor(provider, cfg.LLM.Routing.Resolve("talk"), cfg.Session)

			runner, err := sandbox.NewRunner(cfg.General.WorkDir, cfg.Sandbox)
			if err != nil {
				return err
			}

			var search *websearch.Client
			var fetcher *webfetch.Fetcher
			if cfg.Search.Endpoint != "" {
				search = websearch.NewClient(cfg.Search)
				fetcher = webfetch.NewFetcher(cfg.Browser)
			} else {
				logger.Printf("search endpoint not configured, browsing agent disabled")
			}

			var index *fileindex.Index
			if idx, err := fileindex.Open(cfg.General.WorkDir); err != nil {
				logger.Printf("opening file index: %v (files agent disabled)", err)
			} else {
				index = idx
				defer index.Close()
			}

			registry, err := agent.NewAgents(cfg, provider, tel, runner, search, fetcher, index)
			if err != nil {
				return err
			}
			router := agent.NewRouter(provider, cfg.LLM, cfg.Agents, tel)
			planner := agent.NewPlanner(provider, cfg.LLM, cfg.Agents, registry, tel)
			coordinator := agent.NewCoordinator(registry, router, planner, cfg.Agents, tel)

			srv, err := server.New(cfg, coordinator, provider, st, sessions, comp, tel, rdb)
			if err != nil {
				return err
			}
			logger.Printf("serving on %s with agents: %v", cfg.Server.Address, registry.Roles())
			return srv.Start(ctx)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
