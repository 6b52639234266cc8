package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blelink/internal/buffer"
	"github.com/srg/blelink/internal/console"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/selector"
	"github.com/srg/blelink/internal/session"
	"github.com/srg/blelink/pkg/config"
)

// runCmd is the explicit form of the root command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervised session (default)",
	Long: `Discover the target device, connect, subscribe to notifications and keep
the session alive until interrupted. Every full batch prints one line:

  HH:MM:SS.ffffff <newest sample as text>`,
	RunE: runSession,
}

var (
	configPath    string
	targetName    string
	readChar      string
	writeChar     string
	batchCapacity int
	maxAttempts   int
	noConsole     bool
)

func init() {
	addSessionFlags(rootCmd.PersistentFlags())
}

// addSessionFlags registers the flags that override configuration values.
func addSessionFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&targetName, "target", "t", "", "Device name selected without prompting")
	flags.StringVar(&readChar, "read-char", "", "Characteristic UUID to subscribe to")
	flags.StringVar(&writeChar, "write-char", "", "Characteristic UUID used by the send command")
	flags.IntVar(&batchCapacity, "capacity", 0, "Samples per printed batch")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "Stop after this many consecutive failures (0 = never)")
	flags.BoolVar(&noConsole, "no-console", false, "Do not read commands from standard input")
}

// loadConfig reads --config and applies the flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Target = targetName
	}
	if flags.Changed("read-char") {
		cfg.ReadCharacteristic = readChar
	}
	if flags.Changed("write-char") {
		cfg.WriteCharacteristic = writeChar
	}
	if flags.Changed("capacity") {
		cfg.BatchCapacity = batchCapacity
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = maxAttempts
	}
	if noConsole {
		cfg.Console = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		ReadCharacteristic:  cfg.ReadCharacteristic,
		WriteCharacteristic: cfg.WriteCharacteristic,
		WarmUp:              cfg.WarmUp,
		Backoff:             cfg.Backoff,
		PollInterval:        cfg.PollInterval,
		MaxAttempts:         cfg.MaxAttempts,
	}
}

func transportOptions(cfg *config.Config) *goble.Options {
	return &goble.Options{
		ScanTimeout:     cfg.ScanTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		AllowDuplicates: cfg.ScanAllowDuplicates,
	}
}

// newRecordPrinter returns the consumer that prints every flushed batch.
func newRecordPrinter(out io.Writer, logger *logrus.Logger) buffer.Consumer {
	stamp := color.New(color.FgCyan)
	return func(rec *buffer.Record, err error) {
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"time":    rec.Time.Format(buffer.TimeLayout),
				"samples": len(rec.Samples),
			}).Warn("Batch flushed with undecodable payload")
			return
		}
		fmt.Fprintf(out, "%s %s\n", stamp.Sprint(rec.Time.Format(buffer.TimeLayout)), rec.Text)
	}
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()

	var con *console.Console
	var prompter selector.Prompter
	if cfg.Console {
		con, err = console.NewStdio(nil, logger)
		if err != nil {
			return err
		}
		prompter = con
		out = con.Stdout()
		logger.SetOutput(con.Stderr())
	}

	// Listen for Ctrl+C to stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(out, "\nUser stopped program.")
			cancel()
		case <-ctx.Done():
		}
	}()

	transport := goble.NewTransport(transportOptions(cfg), logger)
	sel := selector.New(cfg.Target, prompter, out, logger)
	buf := buffer.New(cfg.BatchCapacity, time.Now(), newRecordPrinter(out, logger))
	sup := session.New(sessionOptions(cfg), transport, sel, buf, logger, out)

	g := groutine.NewGroup(ctx)
	var runErr error
	g.Go("session-supervisor", func(ctx context.Context) {
		runErr = sup.Run(ctx)
		cancel()
	})
	if con != nil {
		con.SetController(sup)
		g.Go("console", func(ctx context.Context) {
			if err := con.Run(ctx); errors.Is(err, console.ErrQuit) {
				fmt.Fprintln(out, "User stopped program.")
				cancel()
			}
		})
	}
	if cfg.StatusInterval > 0 {
		g.Go("status-reporter", func(ctx context.Context) {
			sup.ReportStatus(ctx, cfg.StatusInterval)
		})
	}
	g.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
