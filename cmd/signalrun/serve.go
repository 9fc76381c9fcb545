package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketwise/signalrun/internal/data"
	"github.com/marketwise/signalrun/internal/domain"
	ophttp "github.com/marketwise/signalrun/internal/interfaces/http"
	"github.com/marketwise/signalrun/internal/persistence/postgres"
	"github.com/marketwise/signalrun/internal/scheduler"
)

func serveCmd() *cobra.Command {
	var (
		flagAddr       string
		flagCron       string
		flagUniverse   []string
		flagTimeframe  string
		flagDirection  string
		flagPostgres   string
		flagRedis      string
		flagCacheTTLm  int
		flagBudgetSecs int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops server and, with --cron, scheduled universe scans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tf, err := domain.ParseTimeframe(flagTimeframe)
			if err != nil {
				return err
			}
			direction, err := domain.ParseDirection(flagDirection)
			if err != nil {
				return err
			}

			rt, err := buildRuntime()
			if err != nil {
				return err
			}

			var opts []scheduler.Option
			if flagPostgres != "" {
				journal, err := postgres.Open(cmd.Context(), flagPostgres)
				if err != nil {
					return err
				}
				defer journal.Close()
				opts = append(opts, scheduler.WithSink(journal))
			}
			if flagRedis != "" {
				client := redis.NewClient(&redis.Options{Addr: flagRedis})
				defer client.Close()
				ttl := time.Duration(flagCacheTTLm) * time.Minute
				opts = append(opts, scheduler.WithSnapshotCache(data.NewSnapshotCache(client, ttl)))
			}

			var sched *scheduler.Scheduler
			if flagCron != "" {
				budget := time.Duration(flagBudgetSecs) * time.Second
				sched = scheduler.New(rt.scanner, flagUniverse, tf, direction, budget, opts...)
				if err := sched.Start(flagCron); err != nil {
					return err
				}
				defer sched.Stop()
			}

			srv := ophttp.NewServer(flagAddr, rt.registry)
			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", ":8080", "ops server listen address")
	cmd.Flags().StringVar(&flagCron, "cron", "", "cron spec for scheduled scans (empty disables)")
	cmd.Flags().StringSliceVar(&flagUniverse, "universe", nil, "tickers for scheduled scans")
	cmd.Flags().StringVar(&flagTimeframe, "timeframe", string(domain.Timeframe1d), "bar interval for scheduled scans")
	cmd.Flags().StringVar(&flagDirection, "direction", string(domain.DirectionAll), "direction filter for scheduled scans")
	cmd.Flags().StringVar(&flagPostgres, "postgres", "", "postgres DSN to journal scan runs (empty disables)")
	cmd.Flags().StringVar(&flagRedis, "redis", "", "redis address to publish scan snapshots (empty disables)")
	cmd.Flags().IntVar(&flagCacheTTLm, "redis-ttl-mins", 30, "snapshot cache entry TTL in minutes")
	cmd.Flags().IntVar(&flagBudgetSecs, "budget-secs", 0, "scheduled scan budget, 0 uses the configured default")
	return cmd
}
