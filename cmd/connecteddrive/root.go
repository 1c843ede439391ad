package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-connecteddrive/auth"
	"github.com/jrsteele09/go-connecteddrive/connecteddrive"
	"github.com/jrsteele09/go-connecteddrive/internal/config"
	"github.com/jrsteele09/go-connecteddrive/sessions"
	"github.com/jrsteele09/go-connecteddrive/sessions/filestore"
	"github.com/jrsteele09/go-connecteddrive/sessions/redisstore"
	"github.com/jrsteele09/go-connecteddrive/sessions/repofakes"
)

var (
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "connecteddrive",
	Short:         "Query and control vehicles through the ConnectedDrive API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		setupLogging(config.New())
		if !quiet {
			displayAppname(config.New().GetAppName())
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "no banner")
}

func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("env", c.GetEnv()).Logger()
}

// app bundles what every command needs.
type app struct {
	client  *connecteddrive.Client
	session *sessions.Session
	close   func()
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	region, err := auth.RegionByName(c.GetRegion())
	if err != nil {
		return nil, err
	}
	region = region.WithSubscriptionKey(c.GetSubscriptionKey())

	store, closeStore := newStore(c)
	negotiator := auth.NewNegotiator(
		auth.WithThrottleRetry(c.GetThrottleRetries(), c.GetThrottleCooldown()),
		auth.WithLogger(log.Logger.With().Str("component", "auth").Logger()),
	)
	session, err := sessions.New(ctx, sessions.Credential{
		Username: c.GetUsername(),
		Password: c.GetPassword(),
		Captcha:  c.GetCaptchaToken(),
		Region:   region,
	}, negotiator, store,
		sessions.WithLogger(log.Logger.With().Str("component", "session").Logger()),
		sessions.WithRefreshMargin(c.GetRefreshMargin()),
		sessions.WithRefreshRetryInterval(c.GetRefreshRetryInterval()),
		sessions.WithCaptchaTTL(c.GetCaptchaTTL()),
	)
	if err != nil {
		closeStore()
		return nil, err
	}
	client, err := connecteddrive.NewClient(session, region,
		connecteddrive.WithUnits(connecteddrive.ParseUnits(c.GetUnits())),
		connecteddrive.WithLogger(log.Logger.With().Str("component", "client").Logger()),
	)
	if err != nil {
		closeStore()
		return nil, err
	}
	return &app{client: client, session: session, close: closeStore}, nil
}

func newStore(c config.StoreConfig) (sessions.Store, func()) {
	switch strings.ToLower(c.GetTokenStore()) {
	case "memory":
		return repofakes.NewFakeTokenStore(), func() {}
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		return redisstore.NewWithPrefix(rdb, c.GetRedisPrefix()), func() { _ = rdb.Close() }
	default:
		return filestore.New(c.GetTokenFile()), func() {}
	}
}

// withApp builds the app for a command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, config.New())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
