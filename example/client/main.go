// Command client opens one session and sends each stdin line as a command.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zereker/imsession"
	"github.com/Zereker/imsession/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "client",
		Short:         "Interactive line protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(connectCmd(), configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type connectFlags struct {
	config  string
	host    string
	port    int
	timeout time.Duration
	verbose bool
}

func connectCmd() *cobra.Command {
	var f connectFlags

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect and send stdin lines as commands",
		Long: `Connect to a line protocol server. Every stdin line is sent as
"command params"; every received frame is printed. Ctrl-D disconnects
gracefully, Ctrl-C immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "", "YAML config file, watched for throttle changes")
	cmd.Flags().StringVar(&f.host, "host", "", "server host, overrides the config")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "server port, overrides the config")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "connect timeout, overrides the config")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [file]",
		Short: "Print the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.SessionConfig
				err error
			)
			if len(args) == 1 {
				cfg, err = config.Load(args[0])
			} else {
				cfg, err = config.Default()
			}
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", *cfg)
			return nil
		},
	}
}

func runConnect(ctx context.Context, f connectFlags) error {
	zcfg := zap.NewDevelopmentConfig()
	if !f.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zl, err := zcfg.Build()
	if err != nil {
		return err
	}
	defer zl.Sync()
	logger := imsession.NewZapLogger(zl)

	var (
		cfg      *config.SessionConfig
		mu       sync.Mutex
		throttle imsession.Throttle
	)

	if f.config != "" {
		w, err := config.Watch(f.config, logger, func(old, cur *config.SessionConfig) {
			mu.Lock()
			defer mu.Unlock()
			if throttle != nil && !cur.Throttle.Apply(throttle) {
				logger.Warn("throttle kind changed, reconnect to apply", "kind", cur.Throttle.Kind)
			}
		})
		if err != nil {
			return err
		}
		defer w.Close()
		cfg = w.Current()
	} else if cfg, err = config.Default(); err != nil {
		return err
	}

	if f.host != "" {
		cfg.Host = f.host
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.timeout != 0 {
		cfg.ConnectTimeout = f.timeout
	}

	opts := append(cfg.Options(),
		imsession.LoggerOption(logger),
		imsession.OnConnectedOption(imsession.ConnectHandlerFunc(func(s *imsession.Session) {
			fmt.Printf("* connected to %s\n", s.RemoteAddr())
		})),
		imsession.OnDisconnectedOption(imsession.DisconnectHandlerFunc(func(s *imsession.Session, r imsession.Reason) {
			fmt.Printf("* disconnected: %s\n", r)
		})),
		imsession.OnUnhandledOption(func(s *imsession.Session, fr imsession.Frame) {
			fmt.Printf("< %s\n", fr.Raw)
		}),
	)
	mu.Lock()
	if throttle = cfg.Throttle.New(); throttle != nil {
		opts = append(opts, imsession.ThrottleOption(throttle))
	}
	mu.Unlock()

	sess, err := imsession.NewSession(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = sess.Connect(ctx, cfg.Host, cfg.Port, cfg.ConnectTimeout); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			command, params, _ := strings.Cut(line, " ")
			if _, err := sess.Send(command, []byte(params)); err != nil {
				logger.Warn("send failed", "command", command, "error", err)
			}
		}
		sess.Disconnect(imsession.Graceful)
	}()

	<-sess.Done()
	return nil
}
