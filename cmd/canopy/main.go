// Package main is the entry point for the canopy CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/canopy/internal/bus"
	"github.com/normanking/canopy/internal/config"
	"github.com/normanking/canopy/internal/logging"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/btruntime"
	"github.com/normanking/canopy/pkg/factory"
	"github.com/normanking/canopy/pkg/tree"
)

var (
	version = "0.1.0"
	cfgPath string
	treeID  string
	verbose bool
	zlog    zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canopy",
		Short: "canopy - a BTCPP-4 behavior-tree runtime",
		Long: `canopy loads BehaviorTree.CPP v4 XML documents and ticks them.

Load and run a tree:   canopy run tree.xml
Validate without ticking: canopy validate tree.xml
Run with the monitor port open: canopy serve tree.xml`,
		PersistentPreRunE: initLogging,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.canopy/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&treeID, "tree", "", "tree ID to run (default: the document's sole top-level tree)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("canopy v%s\n", version)
		},
	})

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	lvl := logging.LevelInfo
	if verbose {
		lvl = logging.LevelDebug
	}
	logging.SetGlobal(logging.New(&logging.Config{
		Level:      lvl,
		Colored:    true,
		ShowCaller: verbose,
		ShowTime:   true,
		Component:  "canopy",
	}))

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	return nil
}

func loadConfig() *config.Config {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		logging.Global().Warn("failed to load config, using defaults: %v", err)
		return config.Default()
	}
	return cfg
}

func loadConfigOrDefault() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// buildFactory loads path into a fresh factory with every built-in
// registered.
func buildFactory(path string) (*factory.Factory, error) {
	f := factory.NewDefault()
	if err := f.LoadXMLFile(path); err != nil {
		return nil, err
	}
	return f, nil
}

func reportBuildError(err error) {
	fmt.Fprintln(os.Stderr, "build failed:")
	var list *bterr.List
	if l, ok := err.(*bterr.List); ok {
		list = l
	}
	if list != nil {
		for _, e := range list.Errors {
			fmt.Fprintf(os.Stderr, "  - [%s] %s\n", e.Kind, e.Message)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "  - %v\n", err)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.xml>",
		Short: "build a tree and tick it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			f, err := buildFactory(args[0])
			if err != nil {
				reportBuildError(err)
				return fmt.Errorf("build failed")
			}

			t, err := f.CreateTree(treeID, btruntime.NewRealClockWithYield(cfg.Tick.YieldInterval))
			if err != nil {
				reportBuildError(err)
				return fmt.Errorf("build failed")
			}

			ctx, cancel := signalContext()
			defer cancel()

			prev := behavior.Idle
			logTransition := func(next behavior.State) {
				if next != prev {
					fmt.Printf("%s -> %s\n", prev, next)
					prev = next
				}
			}

			state, err := tickWithTransitions(ctx, t, logTransition)
			if err != nil {
				fmt.Fprintf(os.Stderr, "tick failed: %v\n", err)
				return err
			}
			fmt.Printf("final verdict: %s\n", state)
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.xml>",
		Short: "build a tree without ticking it, reporting every build-time error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFactory(args[0])
			if err != nil {
				reportBuildError(err)
				return fmt.Errorf("build failed")
			}
			if _, err := f.CreateTree(treeID, btruntime.NewRealClock()); err != nil {
				reportBuildError(err)
				return fmt.Errorf("build failed")
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve <file.xml>",
		Short: "run a tree with the Groot2-style monitor port open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			f, err := buildFactory(args[0])
			if err != nil {
				reportBuildError(err)
				return fmt.Errorf("build failed")
			}

			t, err := f.CreateTree(treeID, btruntime.NewRealClockWithYield(cfg.Tick.YieldInterval))
			if err != nil {
				reportBuildError(err)
				return fmt.Errorf("build failed")
			}

			b := bus.NewBus()
			defer b.Close()
			t.SetBus(b)

			obsCfg := bus.DefaultObserverConfig()
			obsCfg.BindAddr = cfg.Monitor.BindAddr
			obsCfg.Port = cfg.Monitor.Port
			observer := bus.NewObserver(b, obsCfg)
			if err := observer.Start(); err != nil {
				return fmt.Errorf("failed to start monitor: %w", err)
			}
			defer observer.Stop()

			zlog.Info().Str("addr", obsCfg.BindAddr).Int("port", obsCfg.Port).Msg("monitor attached")

			ctx, cancel := signalContext()
			defer cancel()

			state, err := t.TickWhileRunning(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "tick failed: %v\n", err)
				return err
			}
			fmt.Printf("final verdict: %s\n", state)
			return nil
		},
	}
}

// tickWithTransitions runs TickWhileRunning one tick at a time so run can
// print each root state change, unlike serve which only needs the bus feed.
func tickWithTransitions(ctx context.Context, t *tree.Tree, onTransition func(behavior.State)) (behavior.State, error) {
	for {
		state, err := t.TickOnce()
		if err != nil {
			return state, err
		}
		onTransition(state)
		if state != behavior.Running {
			return state, nil
		}
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		t.Runtime.Yield(ctx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
