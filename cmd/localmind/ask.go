package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"localmind/config"
	"localmind/internal/agent"
	"localmind/internal/inference"
	"localmind/internal/sandbox"
	"localmind/internal/session"
	"localmind/internal/telemetry"
	"localmind/internal/tools/fileindex"
	"localmind/internal/tools/webfetch"
	"localmind/internal/tools/websearch"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var showSteps bool
	var ask = &cobra.Command{
		Use:   "ask [query]",
		Short: "Run a single query without the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			provider, err := inference.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			tel := telemetry.New(cfg.Telemetry, prometheus.NewRegistry())

			runner, err := sandbox.NewRunner(cfg.General.WorkDir, cfg.Sandbox)
			if err != nil {
				return err
			}
			var search *websearch.Client
			var fetcher *webfetch.Fetcher
			if cfg.Search.Endpoint != "" {
				search = websearch.NewClient(cfg.Search)
				fetcher = webfetch.NewFetcher(cfg.Browser)
			}
			var index *fileindex.Index
			if idx, err := fileindex.Open(cfg.General.WorkDir); err == nil {
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

			ctx := cmd.Context()
			if cfg.General.MaxProcessingTime > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.General.MaxProcessingTime)
				defer cancel()
			}

			sess := session.NewSession("")
			run, err := coordinator.Process(ctx, agent.Query{
				SessionID: sess.ID,
				Content:   query,
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}

			fmt.Println(run.Answer)
			if showSteps {
				fmt.Println()
				for _, step := range run.Steps {
					fmt.Printf("[%s] %s (%s)\n", step.Agent, step.TaskID, step.Duration.Round(time.Millisecond))
				}
				fmt.Printf("complexity=%s agents=%v tokens=%d cost=$%.4f in %s\n",
					run.Complexity, run.AgentsUsed, run.TokensUsed, run.Cost, run.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}
	ask.Flags().BoolVar(&showSteps, "steps", false, "print per-step details after the answer")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}
