package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"guesthouse-sms-agent/internal/config"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "guesthouse-sms-agent",
	Short:         "SMS support agent for a guesthouse",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.AddCommand(serveCmd, lambdaCmd, migrateCmd, seedCmd, digestCmd)

	// The Lambda runtime starts the binary without arguments.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
			return lambdaCmd.RunE(cmd, args)
		}
		return cmd.Help()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP webhook server and the morning digest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile, envFile)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		srv := &http.Server{
			Addr:         a.cfg.HTTP.Addr,
			Handler:      a.handler,
			ReadTimeout:  a.cfg.HTTP.ReadTimeout,
			WriteTimeout: a.cfg.HTTP.WriteTimeout,
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			a.logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		if a.cfg.Digest.Enabled {
			group.Go(func() error {
				return a.digest.Start(groupCtx)
			})
		}
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return group.Wait()
	},
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve API Gateway proxy events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfgFile, envFile)
		if err != nil {
			return err
		}
		lambda.Start(a.handler.Handle)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the SQLite schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd.Context(), cfgFile, envFile)
		if err != nil {
			return err
		}
		if cfg.Store.Backend != config.BackendSQLite {
			return fmt.Errorf("migrate applies to the sqlite backend only, got %q", cfg.Store.Backend)
		}
		store, err := openStore(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s\n", cfg.Store.SQLitePath)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the default intents and templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile, envFile)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		report, err := a.admin.SeedDefaults(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "intents created: %d, templates created: %d\n", report.IntentsCreated, report.TemplatesCreated)
		return nil
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Send the pending night follow-up digest once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile, envFile)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		report, err := a.digest.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pending: %d, sent: %t\n", report.Count, report.Sent)
		return nil
	},
}
