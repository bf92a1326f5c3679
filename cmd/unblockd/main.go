package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/unblockd/unblockd/internal/log"
	"github.com/unblockd/unblockd/internal/model"
)

const defaultHttpServerGracefulPeriod = 5 * time.Second

var (
	userConfigPath string // /default/config/path/unblockd on given OS
	configPath     string // actual config file used (if loaded)

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

var rootCmd = &cobra.Command{
	Use:          "unblockd",
	Short:        "Firewall unblock orchestration for managed hosting servers",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run starts the check workers, the HTTP API and the maintenance sweeps",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides a version of unblockd",
	RunE:  doVersion,
}

func init() {
	// user configuration
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "unblockd")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is unblockd.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages and usage
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		slog.Error("unblockd failed", "err", err)
		if strings.HasPrefix(err.Error(), "unknown command") {
			_ = rootCmd.Help() // ./cmd bflmp
		} else {
			_ = cmd.Help() // ./cmd run gfagf (extra arg)
		}
		os.Exit(1)
	}
}

func doVersion(cmd *cobra.Command, args []string) error {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return fmt.Errorf("unblockd: version info not available")
	}

	if configPath != "" {
		fmt.Printf("config: %s\n", configPath)
	}
	fmt.Printf("unblockd: %s\n", info.Main.Version)
	fmt.Printf("go:     %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			fmt.Printf("commit: %s\n", s.Value)
		case "vcs.time":
			fmt.Printf("date:   %s\n", s.Value)
		case "vcs.modified":
			fmt.Printf("dirty:  %s\n", s.Value)
		}
	}
	fmt.Println()

	return nil
}

func doRun(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unsupported arguments: %s", strings.Join(args, ", "))
	}
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("unblockd",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	slog.DebugContext(ctx, "", "config", config)

	app, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	httpServer := &http.Server{
		Addr:    config.Server.Addr,
		Handler: app.web.Handler(),
	}

	if app.scheduler != nil {
		app.scheduler.Start()
		defer func() {
			if err := app.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return app.supervisor.Do(egCtx)
	})
	eg.Go(func() error {
		slog.InfoContext(egCtx, "Starting http server.", slog.String("addr", config.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultHttpServerGracefulPeriod)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.InfoContext(ctx, "Http server shutdown error.", slog.String("error", err.Error()))
		} else {
			slog.InfoContext(ctx, "Http server shutdown gracefully.")
		}
		return nil
	})

	return eg.Wait()
}

func loadConfig(_ *cobra.Command, _ []string) (model.Config, error) {
	if envConfig, ok := os.LookupEnv("UNBLOCKDCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "unblockd.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var config model.Config

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "unblockd.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return config, fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return config, fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return config, fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		var err error
		config, err = model.LoadConfigFromPath(configPath)
		if err != nil {
			return config, err
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}
	slog.SetDefault(log.New(config.Service.Verbose))

	return config, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
