// cmd/notification-dispatcher/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"notification-dispatcher/internal/common/database"
	"notification-dispatcher/internal/common/httpclient"
	"notification-dispatcher/pkg/registry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	Version = "0.1.0"
	appName = "notification-dispatcher"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Fan out learning-platform events to email, push and in-app notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML); defaults to configs/config.yaml")

	cmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		sweepCmd(&configPath),
		purgeCmd(&configPath),
		registryCmd(),
		raiseCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, inbound workers, fan-out engine and retry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(ctx, a.pg.GetDB(), a.log); err != nil {
				return err
			}
			version, err := database.MigrationVersion(ctx, a.pg.GetDB())
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", version)
			return nil
		},
	}
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single retry/due/exhaust sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.engine.Close()

			report, err := c.sweeper.SweepOnce(ctx)
			printJSON(report)
			return err
		},
	}
}

func purgeCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sent delivery records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.engine.Close()

			if olderThan == 0 {
				olderThan = a.cfg.Retention.SentTTL()
			}
			n, err := c.service.PurgeSent(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d sent records older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (defaults to retention.sent_ttl_hours)")
	return cmd
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the inbound event registry",
	}

	var path string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate an event registry file, or the built-in one",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(path)
			if err != nil {
				return err
			}
			for _, def := range reg.Events {
				fmt.Printf("%-24s %-22s task=%s subject=%s\n", def.Kind, def.EventType, def.TaskType, def.Subject)
			}
			fmt.Printf("registry %s: %d event kinds OK\n", reg.Version, len(reg.Events))
			return nil
		},
	}
	validate.Flags().StringVar(&path, "file", "", "Registry JSON file (defaults to the built-in registry)")
	cmd.AddCommand(validate)
	return cmd
}

func raiseCmd() *cobra.Command {
	var (
		server  string
		payload string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "raise <kind>",
		Short: "Submit an event to a running dispatcher over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(payload)
			if payload == "-" {
				var err error
				if body, err = io.ReadAll(os.Stdin); err != nil {
					return err
				}
			}

			client := httpclient.NewClient(server, timeout)
			var out map[string]any
			if err := client.PostRaw(cmd.Context(), "/api/v1/events/"+args[0], body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Dispatcher base URL")
	cmd.Flags().StringVarP(&payload, "data", "d", "{}", "Event JSON payload, or - to read stdin")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func loadRegistry(path string) (*registry.EventRegistry, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.LoadRegistry(path)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
