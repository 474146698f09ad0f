// pulsed - relay heartbeat oracle daemon
// Probes the registered relay set every interval, anchors the survivor
// commitment for the epoch and serves a read-only status API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaypulse/relaypulse/anchor"
	"github.com/relaypulse/relaypulse/api"
	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/ledger"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/oracle"
	"github.com/relaypulse/relaypulse/probe"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type daemonConfig struct {
	DataDir         string
	Listen          string
	Admin           string
	EpochSeconds    int
	ProbeTimeout    time.Duration
	Parallelism     int
	ProbesPerSecond float64
	Interval        time.Duration
	WriteOnce       bool
	LogLevel        string
	Debug           string
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "pulsed",
		Short: "Relay heartbeat oracle",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		cfg        daemonConfig
		configFile string
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML config file; flags override its values.")
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "datadir", filepath.Join(os.Getenv("HOME"), ".relaypulse"), "Directory for the anchor and ledger stores.")
	rootCmd.PersistentFlags().StringVar(&cfg.Admin, "admin", "0x00000000000000000000000000000000000000ad", "Admin identity publications are attributed to.")
	rootCmd.PersistentFlags().IntVar(&cfg.EpochSeconds, "epoch-duration", 3600, "Epoch duration in seconds.")
	rootCmd.PersistentFlags().BoolVar(&cfg.WriteOnce, "write-once", false, "Refuse to overwrite an already-published epoch root.")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "loglevel", "info", "Log level: trace, debug, info, warn, error, crit.")
	rootCmd.PersistentFlags().StringVar(&cfg.Debug, "debug", "", "Comma-separated log modules to enable, e.g. probe_mod.")

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run heartbeat cycles on an interval and serve the status API",
		Run: func(cmd *cobra.Command, args []string) {
			loadConfigFile(cmd, configFile, &cfg)
			initLogging(cfg)
			if err := runDaemon(cfg); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	runCmd.Flags().StringVar(&cfg.Listen, "listen", ":8590", "Status API listen address.")
	runCmd.Flags().DurationVar(&cfg.ProbeTimeout, "probe-timeout", probe.DefaultTimeout, "Per-probe deadline.")
	runCmd.Flags().IntVar(&cfg.Parallelism, "parallelism", oracle.DefaultParallelism, "Bounded probe worker pool size.")
	runCmd.Flags().Float64Var(&cfg.ProbesPerSecond, "probes-per-second", 0, "Probe launch rate limit. 0 disables limiting.")
	runCmd.Flags().DurationVar(&cfg.Interval, "interval", 10*time.Minute, "Time between heartbeat cycles.")

	var onceCmd = &cobra.Command{
		Use:   "once",
		Short: "Run a single heartbeat cycle and exit",
		Run: func(cmd *cobra.Command, args []string) {
			loadConfigFile(cmd, configFile, &cfg)
			initLogging(cfg)
			if err := runOnce(cfg); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	onceCmd.Flags().DurationVar(&cfg.ProbeTimeout, "probe-timeout", probe.DefaultTimeout, "Per-probe deadline.")
	onceCmd.Flags().IntVar(&cfg.Parallelism, "parallelism", oracle.DefaultParallelism, "Bounded probe worker pool size.")

	var rootQueryCmd = &cobra.Command{
		Use:   "root <epoch>",
		Short: "Print the anchored commitment root for an epoch",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			loadConfigFile(cmd, configFile, &cfg)
			initLogging(cfg)
			if err := queryRoot(cfg, args[0]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pulsed %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(runCmd, onceCmd, rootQueryCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfigFile applies config-file values for flags the user did not set.
func loadConfigFile(cmd *cobra.Command, configFile string, cfg *daemonConfig) {
	if configFile == "" {
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Config file error:", err)
		os.Exit(1)
	}
	set := func(flag string, apply func()) {
		if !cmd.Flags().Changed(flag) && !cmd.Root().PersistentFlags().Changed(flag) && viper.IsSet(flag) {
			apply()
		}
	}
	set("datadir", func() { cfg.DataDir = viper.GetString("datadir") })
	set("listen", func() { cfg.Listen = viper.GetString("listen") })
	set("admin", func() { cfg.Admin = viper.GetString("admin") })
	set("epoch-duration", func() { cfg.EpochSeconds = viper.GetInt("epoch-duration") })
	set("probe-timeout", func() { cfg.ProbeTimeout = viper.GetDuration("probe-timeout") })
	set("parallelism", func() { cfg.Parallelism = viper.GetInt("parallelism") })
	set("probes-per-second", func() { cfg.ProbesPerSecond = viper.GetFloat64("probes-per-second") })
	set("interval", func() { cfg.Interval = viper.GetDuration("interval") })
	set("write-once", func() { cfg.WriteOnce = viper.GetBool("write-once") })
	set("loglevel", func() { cfg.LogLevel = viper.GetString("loglevel") })
	set("debug", func() { cfg.Debug = viper.GetString("debug") })
}

func initLogging(cfg daemonConfig) {
	log.InitLogger(cfg.LogLevel)
	if cfg.Debug != "" {
		log.EnableModules(cfg.Debug)
	}
}

type services struct {
	anchor      *anchor.Anchor
	ledger      *ledger.Ledger
	coordinator *oracle.Coordinator
}

func buildServices(cfg daemonConfig) (*services, error) {
	if !common.IsHexAddress(cfg.Admin) {
		return nil, fmt.Errorf("invalid admin address %q", cfg.Admin)
	}
	admin := common.HexToAddress(cfg.Admin)

	a, err := anchor.NewAnchor(filepath.Join(cfg.DataDir, "anchor"), admin, anchor.Options{WriteOnce: cfg.WriteOnce})
	if err != nil {
		return nil, err
	}
	l, err := ledger.NewLedger(ledger.Config{
		Anchor:    a,
		StorePath: filepath.Join(cfg.DataDir, "ledger"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	c := oracle.New(oracle.Config{
		Identity:        admin,
		Directory:       l,
		Clock:           epoch.NewClock(time.Duration(cfg.EpochSeconds) * time.Second),
		Probe:           probe.New(cfg.ProbeTimeout),
		Anchor:          a,
		Parallelism:     cfg.Parallelism,
		ProbesPerSecond: cfg.ProbesPerSecond,
	})
	return &services{anchor: a, ledger: l, coordinator: c}, nil
}

func (s *services) close() {
	s.ledger.Close()
	s.anchor.Close()
}

func runDaemon(cfg daemonConfig) error {
	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	r := mux.NewRouter()
	api.RegisterRoutes(r, api.NewHandler(svc.ledger, svc.anchor, svc.coordinator))
	srv := &http.Server{Addr: cfg.Listen, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(log.APIMonitoring, "status server stopped", "err", err)
		}
	}()
	log.Info(log.APIMonitoring, "status API listening", "addr", cfg.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info(log.OracleMonitoring, "shutdown signal received")
		cancel()
	}()

	err = svc.coordinator.RunEvery(ctx, cfg.Interval)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func runOnce(cfg daemonConfig) error {
	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	report, err := svc.coordinator.RunCycle(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("epoch %d: probed %d, alive %d, root %s\n",
		uint64(report.Epoch), report.Probed, len(report.Survivors), report.Root.Hex())
	return nil
}

func queryRoot(cfg daemonConfig, arg string) error {
	var id uint64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil {
		return fmt.Errorf("invalid epoch %q", arg)
	}
	if !common.IsHexAddress(cfg.Admin) {
		return fmt.Errorf("invalid admin address %q", cfg.Admin)
	}
	a, err := anchor.NewAnchor(filepath.Join(cfg.DataDir, "anchor"), common.HexToAddress(cfg.Admin), anchor.Options{WriteOnce: cfg.WriteOnce})
	if err != nil {
		return err
	}
	defer a.Close()

	root := a.Roots(epoch.Epoch(id))
	if common.IsNilHash(root) {
		return fmt.Errorf("no root published for epoch %d", id)
	}
	fmt.Println(root.Hex())
	return nil
}
