// Command quorum runs the score aggregation engine from the command line:
// one-shot aggregation of a score file, history inspection of a result
// database, and an HTTP server mode for online ingestion.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-quorum/infrastructure/httpapi"
	"github.com/ahrav/go-quorum/infrastructure/middleware"
	"github.com/ahrav/go-quorum/infrastructure/store"
	"github.com/ahrav/go-quorum/infrastructure/units"
	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quorum",
		Short:         "Multi-judge score aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAggregateCmd(), newHistoryCmd(), newServeCmd())
	return root
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// loadConfig falls back to the built-in defaults when no file is given.
func loadConfig(path string) (application.AggregationConfig, error) {
	if path == "" {
		return application.DefaultConfig(), nil
	}
	return application.LoadConfig(path)
}

func newAggregateCmd() *cobra.Command {
	var configPath, scoresPath, executionID, dbPath string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate a file of judge scores into one result version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(scoresPath)
			if err != nil {
				return fmt.Errorf("read scores: %w", err)
			}
			var scores []domain.JudgeScore
			if err := yaml.Unmarshal(data, &scores); err != nil {
				return fmt.Errorf("parse scores: %w", err)
			}

			ctx := cmd.Context()
			bank := store.NewMemoryScoreBank()
			for _, score := range scores {
				if err := bank.Append(ctx, executionID, score); err != nil {
					return err
				}
			}

			aggStore, closeStore, err := openStore(dbPath, newLogger())
			if err != nil {
				return err
			}
			defer closeStore()

			engine, err := newEngine(cfg, bank, aggStore)
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Aggregate(ctx, executionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "aggregation config YAML (defaults used when omitted)")
	cmd.Flags().StringVar(&scoresPath, "scores", "", "judge scores YAML file")
	cmd.Flags().StringVar(&executionID, "execution", "", "execution identifier")
	cmd.Flags().StringVar(&dbPath, "db", "", "result database directory (in-memory when omitted)")
	_ = cmd.MarkFlagRequired("scores")
	_ = cmd.MarkFlagRequired("execution")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var executionID, dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print every result version for an execution",
		RunE: func(cmd *cobra.Command, _ []string) error {
			badgerStore, err := store.OpenBadger(dbPath, newLogger())
			if err != nil {
				return err
			}
			defer badgerStore.Close()

			results, err := badgerStore.History(cmd.Context(), executionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "execution identifier")
	cmd.Flags().StringVar(&dbPath, "db", "", "result database directory")
	_ = cmd.MarkFlagRequired("execution")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath, addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the aggregation engine over HTTP",
		RunE: func(_ *cobra.Command, _ []string) error {
			log := newLogger()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			aggStore, closeStore, err := openStore(dbPath, log)
			if err != nil {
				return err
			}
			defer closeStore()

			bank := store.NewMemoryScoreBank()
			metrics := middleware.NewPrometheusMetrics(prometheus.DefaultRegisterer)

			engine, err := newEngine(cfg, bank, aggStore,
				application.WithLogger(log),
				application.WithMetrics(metrics),
				application.WithUnitMiddleware(
					middleware.UnitMetrics(metrics),
					middleware.UnitTracing(),
				),
			)
			if err != nil {
				return err
			}
			defer engine.Close()

			server := httpapi.NewServer(engine, bank, prometheus.DefaultGatherer, log)
			log.Info().Str("addr", addr).Msg("serving")
			return server.Run(addr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "aggregation config YAML (defaults used when omitted)")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "result database directory (in-memory when omitted)")
	return cmd
}

func newEngine(
	cfg application.AggregationConfig,
	source ports.ScoreSource,
	aggStore ports.AggregationStore,
	opts ...application.Option,
) (*application.Engine, error) {
	return application.NewEngine(cfg, application.Deps{
		Source:    source,
		Store:     aggStore,
		Builder:   units.BuildPipeline,
		Evaluator: units.EvaluateQuality,
	}, opts...)
}

func openStore(dbPath string, log zerolog.Logger) (ports.AggregationStore, func(), error) {
	if dbPath == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	badgerStore, err := store.OpenBadger(dbPath, log)
	if err != nil {
		return nil, nil, err
	}
	return badgerStore, func() { _ = badgerStore.Close() }, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
