package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/ghalamif/MeterFlow/internal/adapters/store"
	"github.com/ghalamif/MeterFlow/internal/app/config"
	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/logging"
	"github.com/ghalamif/MeterFlow/internal/ports"
	"github.com/ghalamif/MeterFlow/internal/sim"
)

var (
	simAddr     string
	simInterval time.Duration
	simSeed     int64
	simBackfill int
	simPersist  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve simulated meter readings over websocket",
	Long: "simulate runs a stand-in meter gateway at ws://<addr>/ws. With --backfill or " +
		"--persist it also writes readings to the store from the config file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.NewWithWriter(os.Stderr, "text", slog.LevelInfo)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)

		meter := sim.NewMeter(simSeed, 0)

		var sink ports.Sink
		if simBackfill > 0 || simPersist {
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if simBackfill > 0 {
				if err := backfill(s, meter, simBackfill, time.Now(), simInterval); err != nil {
					return err
				}
				total, _ := s.Count(ctx)
				log.Info("backfill complete", slog.Int("records", simBackfill), slog.Int64("stored", total))
			}
			if simPersist {
				sink = s
			}
		}

		srv := sim.NewServer(meter, simInterval, log)
		router := mux.NewRouter()
		router.Handle("/ws", srv)
		router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}).Methods(http.MethodGet)

		hs := &http.Server{Addr: simAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go srv.Run(ctx, sink)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()

		log.Info("simulator listening", slog.String("url", "ws://"+simAddr+"/ws"))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simAddr, "addr", "localhost:5000", "Listen address")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", sim.DefaultInterval, "Reading interval")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", time.Now().UnixNano(), "Random seed")
	simulateCmd.Flags().IntVar(&simBackfill, "backfill", 0, "Write this many historical readings to the store before serving")
	simulateCmd.Flags().BoolVar(&simPersist, "persist", false, "Also write every live reading to the store")
}

func openStore(ctx context.Context) (*store.SQLStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Table)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if n, err := s.Count(ctx); err == nil {
		logging.FromContext(ctx).Info("store opened",
			slog.String("driver", cfg.Store.Driver),
			slog.String("table", cfg.Store.Table),
			slog.Int64("records", n))
	}
	return s, nil
}

// backfill writes n readings ending at end in store-sized batches.
func backfill(sink ports.Sink, meter *sim.Meter, n int, end time.Time, step time.Duration) error {
	const batch = 500
	recs := meter.Backfill(n, end, step)
	ptrs := make([]*domain.Record, 0, batch)
	for i := range recs {
		ptrs = append(ptrs, &recs[i])
		if len(ptrs) == batch || i == len(recs)-1 {
			if err := sink.WriteBatch(ptrs); err != nil {
				return err
			}
			ptrs = ptrs[:0]
		}
	}
	return nil
}
