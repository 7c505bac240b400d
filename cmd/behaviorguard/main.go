// Command behaviorguard manages per-user behavioral anomaly models against
// a configured blob store: onboard users with an initial batch, score
// telemetry records, and trigger retrains.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aegisml/behaviorguard/pkg/config"
	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/notify"
	"github.com/aegisml/behaviorguard/pkg/service"
	"github.com/aegisml/behaviorguard/pkg/store"
)

var (
	configPath string
	dataDir    string
)

func main() {
	root := &cobra.Command{
		Use:   "behaviorguard",
		Short: "Per-user behavioral anomaly detection models",
		Long: `behaviorguard scores behavioral telemetry against per-user baselines,
accumulates scored records as future training data, and retrains each
user's model from scratch on the accumulated corpus.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override store directory for the fs backend")

	root.AddCommand(newOnboardCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newRetrainCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newHealthCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildService assembles the service from the resolved configuration.
func buildService(ctx context.Context) (*service.Service, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dataDir != "" {
		cfg.Store.Backend = "fs"
		cfg.Store.Dir = dataDir
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger)
	}

	return service.New(cfg, st, notifier, logger), logger, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "fs":
		return store.NewFS(cfg.Store.Dir)
	case "s3":
		return store.NewS3FromEnv(ctx, cfg.Store.Bucket, cfg.Store.Region)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newOnboardCmd() *cobra.Command {
	var csvPath string

	cmd := &cobra.Command{
		Use:   "onboard <user-id>",
		Short: "Upload a user's initial training batch and train the first model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, logger, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer svc.Close()

			data, err := os.ReadFile(csvPath)
			if err != nil {
				return err
			}

			job, err := svc.Onboard(ctx, args[0], data)
			if err != nil {
				return err
			}
			if err := job.Wait(ctx); err != nil {
				return err
			}

			fmt.Printf("user %s onboarded: %s\n", args[0], job.Message())
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "path to the initial training CSV")
	cmd.MarkFlagRequired("csv")
	return cmd
}

func newScoreCmd() *cobra.Command {
	var recordPath string

	cmd := &cobra.Command{
		Use:   "score <user-id>",
		Short: "Score one telemetry record against the user's current model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, logger, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer svc.Close()

			data, err := os.ReadFile(recordPath)
			if err != nil {
				return err
			}
			var rec features.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("parse record: %w", err)
			}

			result, err := svc.Score(ctx, args[0], rec)
			if err != nil {
				return err
			}

			out, _ := json.Marshal(result)
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&recordPath, "record", "", "path to a JSON telemetry record")
	cmd.MarkFlagRequired("record")
	return cmd
}

func newRetrainCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "retrain <user-id>",
		Short: "Rebuild the user's model from the accumulated corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, logger, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer svc.Close()

			job, err := svc.Retrain(ctx, args[0])
			if err != nil {
				return err
			}

			if !wait {
				fmt.Printf("retrain submitted: job %s\n", job.ID)
				return nil
			}
			if err := job.Wait(ctx); err != nil {
				return err
			}
			fmt.Printf("job %s: %s\n", job.ID, job.Message())
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "block until the retrain finishes")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backing store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, logger, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer svc.Close()

			if err := svc.Healthy(ctx); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newSimulateCmd() *cobra.Command {
	var (
		rows int
		out  string
		seed int64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic telemetry CSV for local experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := writeSyntheticCSV(f, rows, seed); err != nil {
				return err
			}
			fmt.Printf("wrote %d rows to %s\n", rows, out)
			return nil
		},
	}

	cmd.Flags().IntVar(&rows, "rows", 200, "number of rows to generate")
	cmd.Flags().StringVar(&out, "out", "telemetry.csv", "output CSV path")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}

// writeSyntheticCSV emits plausible normal behavioral telemetry for the
// default schema: gaussian continuous readings and a single active
// day-of-week indicator per row.
func writeSyntheticCSV(f *os.File, rows int, seed int64) error {
	schema := features.DefaultSchema()
	rng := rand.New(rand.NewSource(seed))

	w := csv.NewWriter(f)
	if err := w.Write(schema.Names()); err != nil {
		return err
	}

	for i := 0; i < rows; i++ {
		record := make([]string, 0, schema.Dim())

		hour := rng.Float64() * 24
		for _, name := range schema.Continuous {
			var v float64
			switch name {
			case "time_of_day_sin":
				v = math.Sin(2 * math.Pi * hour / 24)
			case "time_of_day_cos":
				v = math.Cos(2 * math.Pi * hour / 24)
			case "battery_level":
				v = 20 + rng.Float64()*80
			case "touch_event_count":
				v = float64(5 + rng.Intn(40))
			default:
				v = math.Abs(rng.NormFloat64())
			}
			record = append(record, strconv.FormatFloat(v, 'f', 6, 64))
		}

		day := rng.Intn(7)
		for j, name := range schema.Binary {
			v := "0"
			switch {
			case name == "charging_state" && rng.Float64() < 0.3:
				v = "1"
			case j >= len(schema.Binary)-7 && j-(len(schema.Binary)-7) == day:
				v = "1"
			}
			record = append(record, v)
		}

		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
