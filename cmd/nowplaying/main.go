// Package main provides the nowplaying playback engine entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"nowplaying/internal/bridge"
	"nowplaying/internal/core"
	httpserver "nowplaying/internal/http"
	"nowplaying/internal/sched"
	"nowplaying/internal/spotify"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nowplaying",
	Short: "nowplaying - Spotify playback state reconciliation engine",
	Long: `nowplaying keeps a single coherent view of what is playing, where, and how,
reconciled across an embedded playback device and the Spotify account API.`,
	RunE: runNowplaying,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("spotify-redirect-url", "", "Spotify OAuth redirect URL")
	rootCmd.PersistentFlags().String("spotify-token-path", "", "Spotify token file path")
	rootCmd.PersistentFlags().String("bridge-listen-addr", "", "local bridge listen address")
	rootCmd.PersistentFlags().String("bridge-device-name", "", "local device display name")
	rootCmd.PersistentFlags().Duration("poll-interval", 0, "remote poll interval")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("NOWPLAYING")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	if v := viper.GetString("spotify-redirect-url"); v != "" {
		cfg.Spotify.RedirectURL = v
	}
	if v := viper.GetString("spotify-token-path"); v != "" {
		cfg.Spotify.TokenPath = v
	}

	if v := viper.GetString("bridge-listen-addr"); v != "" {
		cfg.Bridge.ListenAddr = v
	}
	if v := viper.GetString("bridge-device-name"); v != "" {
		cfg.Bridge.DeviceName = v
	}

	if v := viper.GetDuration("poll-interval"); v > 0 {
		cfg.Engine.PollInterval = v
	}

	if v := viper.GetString("server-host"); v != "" {
		cfg.Server.Host = v
	}
	cfg.Server.Port = viper.GetInt("server-port")

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runNowplaying(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting nowplaying",
		zap.Duration("poll_interval", config.Engine.PollInterval),
		zap.String("bridge_addr", config.Bridge.ListenAddr))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"))
	metrics := httpServer.Sink()

	remote := spotify.NewClient(&config.Spotify, logger.Named("spotify"))
	if err := remote.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with Spotify: %w", err)
	}

	localBridge := bridge.New(&config.Bridge, logger.Named("bridge"))
	scheduler := sched.New(logger.Named("sched"))

	reconciler := core.NewReconciler(config.Engine, logger.Named("reconciler"), metrics)
	poller := core.NewRemotePoller(config.Engine, remote, reconciler, scheduler, logger.Named("poller"), metrics)
	orchestrator := core.NewOrchestrator(config.Engine, remote, localBridge, reconciler, logger.Named("orchestrator"), metrics)
	advance := core.NewAutoAdvance(config.Engine, remote, reconciler, scheduler, logger.Named("autoadvance"), metrics)

	controller := core.NewController(
		config,
		remote,
		localBridge,
		reconciler,
		poller,
		orchestrator,
		advance,
		scheduler,
		logger.Named("controller"),
	)

	controller.Subscribe(func(state core.PlaybackState) {
		logger.Debug("Canonical state",
			zap.String("trackID", state.TrackID),
			zap.Bool("playing", state.IsPlaying),
			zap.Int("positionMs", state.PositionMs))
	})
	controller.SubscribeAccountError(func(message string) {
		logger.Error("Account cannot use local playback", zap.String("message", message))
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		if err := controller.Start(gCtx); err != nil {
			return err
		}
		<-gCtx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		return controller.Stop(stopCtx)
	})

	logger.Info("nowplaying started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("nowplaying stopped with error", zap.Error(err))
		return err
	}

	logger.Info("nowplaying stopped gracefully")
	return nil
}

func validateConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}

	if config.Bridge.ListenAddr == "" {
		return fmt.Errorf("bridge listen address is required")
	}

	return nil
}
