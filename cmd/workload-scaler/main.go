package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/opscart/k8s-workload-scaler/pkg/config"
	"github.com/opscart/k8s-workload-scaler/pkg/reporter"
	"github.com/opscart/k8s-workload-scaler/pkg/storage"
)

var (
	configFile string

	// History command vars
	historyLimit   int
	historyOutput  string
	historyCluster string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workload-scaler",
		Short: "Metric driven autoscaler for Kubernetes workloads",
		Long: `Scale a Deployment, StatefulSet, ReplicaSet or ReplicationController between
a floor and a ceiling, driven by Prometheus alerts or by the rate of change of a
Prometheus or metrics-server metric.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, false)
		},
	}

	config.BindFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (yaml, json or toml)")

	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single evaluation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, true)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <namespace>/<name>",
		Short: "View recorded scale events for a workload",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of events to show")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "text", "Output format: text, json, csv, html")
	historyCmd.Flags().StringVar(&historyCluster, "cluster-name", "", "Only show events for this cluster")

	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(historyCmd)

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(cmd.Flags(), configFile)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

func run(cmd *cobra.Command, once bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := klog.NewKlogr()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting workload scaler", "config", cfg.Summary())

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if once {
		return app.loop.RunOnce(ctx)
	}
	return app.Run(ctx)
}

func runHistory(cmd *cobra.Command, args []string) error {
	namespace, name, err := parseWorkloadRef(args[0])
	if err != nil {
		return err
	}
	format, err := reporter.ParseFormat(historyOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("history needs a database: %w", storage.ErrStorageDisabled)
	}

	ctx := cmd.Context()
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	events, err := store.ListScaleEvents(ctx, storage.EventFilter{
		Namespace: namespace,
		Name:      name,
		Cluster:   historyCluster,
		Limit:     historyLimit,
	})
	if err != nil {
		return err
	}

	r := reporter.New(format)
	return r.Write(r.Generate(events, namespace, name), cmd.OutOrStdout())
}

// parseWorkloadRef splits "namespace/name"
func parseWorkloadRef(ref string) (string, string, error) {
	namespace, name, ok := strings.Cut(ref, "/")
	if !ok || namespace == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("expected <namespace>/<name>, got %q", ref)
	}
	return namespace, name, nil
}
