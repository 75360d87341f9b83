package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"

	"wmsdispatch/internal/buildinfo"
	"wmsdispatch/internal/config"
	"wmsdispatch/internal/dispatch"
	"wmsdispatch/internal/logging"
	"wmsdispatch/internal/metrics"
	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
	"wmsdispatch/internal/report"
	"wmsdispatch/internal/snapshot"
	"wmsdispatch/internal/store"
)

const pushJob = "wmsctl"

// setup loads configuration and routes logs to stderr in console form.
func setup(stderr io.Writer) (config.Config, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return config.Config{}, err
	}
	logging.SetupWriter(stderr, "development", cfg.LogLevel)
	return cfg, nil
}

func openStore(ctx context.Context, stderr io.Writer) (store.Store, func(), error) {
	cfg, err := setup(stderr)
	if err != nil {
		return nil, nil, err
	}
	return store.Open(ctx, cfg)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runHealth(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("health", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := setup(stderr)
	if err != nil {
		return err
	}
	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := st.Ping(pingCtx); err != nil {
		return fmt.Errorf("store unhealthy: %w", err)
	}
	target := "memory"
	if cfg.DatabaseURL != "" {
		target = config.MaskDatabaseURL(cfg.DatabaseURL)
	}
	fmt.Fprintf(stdout, "store: ok (%s, %s)\n", target, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(stdout, "api:   %s\n", cfg.APIURL)
	return nil
}

func runOrder(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	switch args[0] {
	case "create":
		fs := newFlagSet("order create", stderr)
		item := fs.String("item", "", "Name of the item to order (required)")
		quantity := fs.Int("quantity", 0, "Quantity to order (> 0)")
		tenant := fs.String("tenant", "t_demo", "Tenant id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *item == "" || *quantity <= 0 {
			return fmt.Errorf("-item is required and -quantity must be greater than 0")
		}
		st, closeStore, err := openStore(ctx, stderr)
		if err != nil {
			return err
		}
		defer closeStore()
		o, err := st.CreateOrder(ctx, *tenant, model.OrderIn{ItemName: *item, Quantity: *quantity})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		log.Info().Str("order_id", o.ID).Msg("order created")
		fmt.Fprintf(stdout, "created order %s: %d x %s (%s)\n", o.ID, o.Quantity, o.ItemName, o.Status)
		return nil
	case "list":
		fs := newFlagSet("order list", stderr)
		status := fs.String("status", "", "Filter by status")
		limit := fs.Int("limit", 20, "Maximum orders to print")
		tenant := fs.String("tenant", "t_demo", "Tenant id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		st, closeStore, err := openStore(ctx, stderr)
		if err != nil {
			return err
		}
		defer closeStore()
		items, next, err := st.ListOrders(ctx, *tenant, *status, "", *limit)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		for _, o := range items {
			fmt.Fprintf(stdout, "%s  %-10s %4d  %s  %s\n", o.ID, o.Status, o.Quantity, o.CreatedAt.Format(time.RFC3339), o.ItemName)
		}
		if next != "" {
			fmt.Fprintf(stdout, "more after %s\n", next)
		}
		return nil
	case "get":
		fs := newFlagSet("order get", stderr)
		id := fs.String("id", "", "Order id (required)")
		tenant := fs.String("tenant", "t_demo", "Tenant id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("-id is required")
		}
		st, closeStore, err := openStore(ctx, stderr)
		if err != nil {
			return err
		}
		defer closeStore()
		o, err := st.GetOrder(ctx, *tenant, *id)
		if err != nil {
			return fmt.Errorf("get order %s: %w", *id, err)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	fmt.Fprintf(stderr, "unknown order command %q\n\n%s", args[0], usage)
	return errUsage
}

func runPlan(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("plan", stderr)
	input := fs.String("input", "", "Snapshot file: .yaml, .json or .csv (required)")
	mode := fs.String("mode", config.ModeSingle, "Planner mode: single|batch")
	maxPerWorker := fs.Int("max-per-worker", 3, "Batch mode task cap per worker")
	estimator := fs.String("estimator", planner.EstimatorDistance, "Cost estimator: distance|time")
	speed := fs.Float64("speed", planner.DefaultTravelSpeed, "Travel speed for the time estimator")
	respectLoad := fs.Bool("respect-load", false, "Batch mode skips fully loaded workers")
	format := fs.String("format", report.FormatText, "Output format: text|json|csv")
	pushURL := fs.String("push-url", "", "Pushgateway URL to push metrics to (e.g., http://localhost:9091)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fmt.Fprintln(stderr, "Error: -input flag is required")
		fs.PrintDefaults()
		return errUsage
	}
	if !report.ValidFormat(*format) {
		return fmt.Errorf("format must be one of: text, json, csv (got: %s)", *format)
	}
	if _, err := setup(stderr); err != nil {
		return err
	}

	snap, err := snapshot.Load(*input)
	if err != nil {
		return err
	}

	metrics.RegisterDefault()
	d := dispatch.New(store.NewMemory(), nil, nil, dispatch.Options{})
	res, err := d.Run(ctx, "cli", dispatch.Options{
		Mode:              *mode,
		MaxTasksPerWorker: *maxPerWorker,
		Estimator:         planner.EstimatorConfig{Type: *estimator, TravelSpeed: *speed},
		RespectLoad:       *respectLoad,
		Snapshot:          &snap,
		DryRun:            true,
		Trigger:           dispatch.TriggerCLI,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, report.Format(res.Plan, *format))

	if *pushURL != "" {
		if err := push.New(*pushURL, pushJob).Gatherer(metrics.Registry).Push(); err != nil {
			return fmt.Errorf("push metrics: %w", err)
		}
		fmt.Fprintln(stderr, "Metrics successfully pushed to Pushgateway")
	}
	return nil
}

func runVersion(stdout io.Writer) error {
	fmt.Fprintf(stdout, "wmsctl %s\n", buildinfo.String())
	return nil
}
