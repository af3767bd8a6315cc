package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/orderpipe/internal/app"
	"github.com/Additional-Code/orderpipe/internal/config"
	"github.com/Additional-Code/orderpipe/internal/dto"
	"github.com/Additional-Code/orderpipe/internal/seeder"
	serviceorder "github.com/Additional-Code/orderpipe/internal/service/order"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

// NewRootCommand builds the root orderpipe CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "orderpipe",
		Short:         "Clean and enrich Olist order exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errorbank.BadRequest(err.Error(), errorbank.WithCause(err))
	})

	root.AddCommand(newRunCmd())
	root.AddCommand(newCompareCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newLastRunCmd())

	return root
}

// Execute runs the orderpipe CLI until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"clean"},
		Short:   "Filter delivered orders and derive delivery times",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *serviceorder.Service
			opts := fx.Options(app.Core, serviceorder.Module, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				p, err := pipelineFlags(cmd, svc.Defaults())
				if err != nil {
					return err
				}
				summary, err := svc.Clean(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s (%s, run %s)\n",
					summary.Stats.Written, summary.Output, summary.Strategy, summary.RunID)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("input", "i", "", "Input CSV path (default from PIPELINE_INPUT_PATH)")
	flags.StringP("output", "o", "", "Output CSV path (default from PIPELINE_OUTPUT_PATH)")
	flags.String("strategy", "", "Processing strategy: scalar or chunked")
	flags.Int("chunk-size", 0, "Rows per batch for the chunked strategy")
	flags.String("precision", "", "delivery_time_days precision: fractional or whole")
	flags.Bool("required-only", false, "Write only the required columns plus delivery_time_days")
	flags.String("dedupe-store", "", "Seen-id store: memory or pebble")
	return cmd
}

// pipelineFlags applies explicitly set flags on top of the configured defaults.
func pipelineFlags(cmd *cobra.Command, p config.Pipeline) (config.Pipeline, error) {
	flags := cmd.Flags()
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	str("input", &p.InputPath)
	str("output", &p.OutputPath)
	str("strategy", &p.Strategy)
	str("precision", &p.Precision)
	str("dedupe-store", &p.DedupeStore)
	if err == nil && flags.Changed("chunk-size") {
		p.ChunkSize, err = flags.GetInt("chunk-size")
	}
	if err == nil && flags.Changed("required-only") {
		p.RequiredOnly, err = flags.GetBool("required-only")
	}
	if err != nil {
		return p, errorbank.BadRequest("read flags", errorbank.WithCause(err))
	}
	return p, nil
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [left.csv right.csv]",
		Short: "Check that the scalar and chunked strategies agree",
		Long: "Without arguments, runs both strategies over the input into a scratch\n" +
			"directory and compares outputs and counters. With two files, compares them.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errorbank.BadRequest(fmt.Sprintf("accepts 0 or 2 arg(s), received %d", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *serviceorder.Service
			opts := fx.Options(app.Core, serviceorder.Module, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				p, err := pipelineFlags(cmd, svc.Defaults())
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("tolerance") {
					p.CompareTolerance, _ = cmd.Flags().GetFloat64("tolerance")
				}

				var res dto.CompareResponse
				if len(args) == 2 {
					res, err = svc.Compare(ctx, args[0], args[1], p.CompareTolerance)
				} else {
					res, err = svc.CompareStrategies(ctx, p)
				}
				if err != nil {
					return err
				}
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
				if !res.Equal {
					return errorbank.Internal("outputs differ", errorbank.WithDetail("mismatches", len(res.Mismatches)))
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("input", "i", "", "Input CSV path (default from PIPELINE_INPUT_PATH)")
	flags.Int("chunk-size", 0, "Rows per batch for the chunked strategy")
	flags.String("precision", "", "delivery_time_days precision: fractional or whole")
	flags.Bool("required-only", false, "Write only the required columns plus delivery_time_days")
	flags.String("dedupe-store", "", "Seen-id store: memory or pebble")
	flags.Float64("tolerance", 0, "Allowed delivery_time_days difference (default from PIPELINE_COMPARE_TOLERANCE)")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	defaults := seeder.DefaultOptions()
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"seed"},
		Short:   "Write a synthetic orders dataset",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			output, _ := flags.GetString("output")
			o := defaults
			o.Rows, _ = flags.GetInt("rows")
			o.Seed, _ = flags.GetInt64("seed")
			o.DeliveredRate, _ = flags.GetFloat64("delivered-rate")
			o.DuplicateRate, _ = flags.GetFloat64("duplicate-rate")
			o.MissingDeliveryRate, _ = flags.GetFloat64("missing-delivery-rate")
			o.BadTimestampRate, _ = flags.GetFloat64("bad-timestamp-rate")
			o.NegativeRate, _ = flags.GetFloat64("negative-rate")

			var (
				seed *seeder.Seeder
				cfg  config.Config
			)
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed, &cfg))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if output == "" {
					output = cfg.Pipeline.InputPath
				}
				res, err := seed.Orders(ctx, output, o)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "generated %d rows to %s\n", res.Rows, output)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("output", "o", "", "Destination CSV (default from PIPELINE_INPUT_PATH)")
	flags.Int("rows", defaults.Rows, "Number of rows to generate")
	flags.Int64("seed", defaults.Seed, "Random seed")
	flags.Float64("delivered-rate", defaults.DeliveredRate, "Share of rows with status delivered")
	flags.Float64("duplicate-rate", defaults.DuplicateRate, "Share of rows repeating an earlier order id")
	flags.Float64("missing-delivery-rate", defaults.MissingDeliveryRate, "Share of delivered rows without a delivery date")
	flags.Float64("bad-timestamp-rate", defaults.BadTimestampRate, "Share of delivered rows with an unparseable purchase timestamp")
	flags.Float64("negative-rate", defaults.NegativeRate, "Share of delivered rows delivered before purchase")
	return cmd
}

func newLastRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last-run",
		Short: "Show the summary of the most recent run",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *serviceorder.Service
			opts := fx.Options(app.Core, serviceorder.Module, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				summary, ok, err := svc.LastRun(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no run recorded")
					return nil
				}
				return writeJSON(cmd, summary)
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errorbank.Internal("encode output", errorbank.WithCause(err))
	}
	return nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	return usage(cobra.NoArgs(cmd, args))
}

func usage(err error) error {
	if err == nil {
		return nil
	}
	return errorbank.BadRequest(err.Error(), errorbank.WithCause(err))
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Err(); err != nil {
		return errorbank.BadRequest("invalid configuration", errorbank.WithCause(err))
	}
	if err := application.Start(ctx); err != nil {
		return errorbank.Internal("start application", errorbank.WithCause(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
