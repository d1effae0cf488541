package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/paddock/pkg/facade"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "paddock - a developer-workstation orchestrator for native Rust binaries",
	Long: `paddock discovers the binary-producing crates in a Cargo workspace,
groups them into stacks, and supervises building, starting, stopping
and log-streaming of however many you want running at once.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().Bool("refresh", false, "force a full refresh of artifacts and config before acting")
	rootCmd.PersistentFlags().String("stack", "", "stack to act on, overriding the configured default")
	rootCmd.PersistentFlags().String("target-directory", ".", "workspace directory to operate on")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(cleanCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// openFacade builds a facade.Facade from the persistent flags shared by
// every subcommand, optionally starting a metrics server alongside it.
func openFacade(cmd *cobra.Command) (*facade.Facade, error) {
	refresh, _ := cmd.Flags().GetBool("refresh")
	stackFlag, _ := cmd.Flags().GetString("stack")
	targetDir, _ := cmd.Flags().GetString("target-directory")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	var stack *string
	if stackFlag != "" {
		stack = &stackFlag
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorf("metrics server stopped", err)
			}
		}()
	}

	return facade.New(context.Background(), refresh, stack, targetDir)
}

var psCmd = &cobra.Command{
	Use:   "ps [name...]",
	Short: "List processes and their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFacade(cmd)
		if err != nil {
			return err
		}
		defer f.Close()

		processes, err := f.Supervisor.Ps(args, f.CurrentStack())
		if err != nil {
			return err
		}

		fmt.Printf("%-20s %-20s %-10s %s\n", "NAME", "BINARY", "STATE", "PID")
		for _, p := range processes {
			pid := "-"
			if p.PID != nil {
				pid = fmt.Sprintf("%d", *p.PID)
			}
			fmt.Printf("%-20s %-20s %-10s %s\n", p.Name, p.Binary, p.State, pid)
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start [name...]",
	Short: "Build and start processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFacade(cmd)
		if err != nil {
			return err
		}
		defer f.Close()

		return f.Supervisor.Start(cmd.Context(), args, f.CurrentStack())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [name...]",
	Short: "Stop processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFacade(cmd)
		if err != nil {
			return err
		}
		defer f.Close()

		kill, _ := cmd.Flags().GetBool("kill")
		return f.Supervisor.Stop(args, f.CurrentStack(), kill)
	},
}

func init() {
	stopCmd.Flags().Bool("kill", false, "send SIGKILL instead of SIGTERM")
}

var logsCmd = &cobra.Command{
	Use:   "logs [name...]",
	Short: "Show process logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFacade(cmd)
		if err != nil {
			return err
		}
		defer f.Close()

		follow, _ := cmd.Flags().GetBool("follow")
		prefix, _ := cmd.Flags().GetBool("prefix")
		tail, _ := cmd.Flags().GetBool("tail")

		lines, err := f.Supervisor.Logs(args, f.CurrentStack(), follow, prefix, tail)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if line.Prefix != "" {
					fmt.Printf("%s > %s\n", line.Prefix, line.Text)
				} else {
					fmt.Println(line.Text)
				}
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "follow new output as it's written")
	logsCmd.Flags().BoolP("prefix", "p", false, "prepend each line with its process name")
	logsCmd.Flags().BoolP("tail", "t", false, "suppress the already-captured log, showing only new output (use with --follow)")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Stop every process and remove the project's persisted state",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFacade(cmd)
		if err != nil {
			return err
		}
		return f.Clean()
	},
}
