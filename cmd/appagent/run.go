package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/httprunner/AppAgent"
	"github.com/httprunner/AppAgent/internal/config"
	"github.com/httprunner/AppAgent/providers/adb"
	"github.com/httprunner/AppAgent/providers/openai"
	"github.com/httprunner/AppAgent/pkg/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// agentVersion is stamped into run records; overridden at build time with
// -ldflags "-X main.agentVersion=...".
var agentVersion = "dev"

func newRunCmd() *cobra.Command {
	var (
		flagMonitorInterval time.Duration
		flagShutdownGrace   time.Duration
		flagMaxRestarts     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive every connected device through the automation stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := firstNonEmpty(rootApp, config.String("APP_PACKAGE", ""))
			if strings.TrimSpace(app) == "" {
				return fmt.Errorf("--app or APP_PACKAGE must be provided")
			}

			model, err := openai.NewFromEnv()
			if err != nil {
				return err
			}
			provider, err := adb.NewDefault()
			if err != nil {
				return err
			}

			var recorder appagent.RunRecorder
			if store, err := storage.NewRecorderFromEnv(); err != nil {
				return err
			} else if store != nil {
				defer store.Close()
				recorder = store
			}

			pool, err := appagent.NewWorkerPool(appagent.PoolConfig{
				Provider:        provider,
				Surfaces:        provider,
				Model:           model,
				Engine:          engineConfigFromEnv(app),
				Recorder:        recorder,
				MonitorInterval: flagMonitorInterval,
				ShutdownGrace:   flagShutdownGrace,
				RestartBackoff:  config.Duration("RESTART_BACKOFF", 10*time.Second),
				MaxRestarts:     flagMaxRestarts,
				DeviceFilter:    rootDevice,
				MaxDevices:      rootMaxDevices,
				AgentVersion:    agentVersion,
			})
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().
				Str("app", app).
				Str("device_filter", rootDevice).
				Int("max_devices", rootMaxDevices).
				Str("version", agentVersion).
				Msg("starting device worker pool")
			return pool.Run(sigCtx)
		},
	}

	cmd.Flags().DurationVar(&flagMonitorInterval, "monitor-interval", config.Duration("MONITOR_INTERVAL", 30*time.Second), "Interval between pool supervision cycles")
	cmd.Flags().DurationVar(&flagShutdownGrace, "shutdown-grace", config.Duration("SHUTDOWN_GRACE", 30*time.Second), "How long workers get to drain on shutdown")
	cmd.Flags().IntVar(&flagMaxRestarts, "max-restarts", config.Int("MAX_RESTARTS", 0), "Per-device restart cap before the worker is retired (0 = unlimited)")

	return cmd
}

func engineConfigFromEnv(app string) appagent.EngineConfig {
	return appagent.EngineConfig{
		App:                      app,
		AppActivity:              config.String("APP_ACTIVITY", ""),
		DailyLimit:               config.Int("DAILY_LIMIT", 0),
		HealthCheckEvery:         config.Int("HEALTH_CHECK_EVERY", 0),
		MaxConsecutiveErrors:     config.Int("MAX_CONSECUTIVE_ERRORS", 0),
		InitiateAttempts:         config.Int("INITIATE_ATTEMPTS", 0),
		LearnAttempts:            config.Int("LEARN_ATTEMPTS", 0),
		SessionMaxSteps:          config.Int("SESSION_MAX_STEPS", 0),
		HealthMaxSteps:           config.Int("HEALTH_MAX_STEPS", 0),
		HealthTransportThreshold: config.Int("HEALTH_TRANSPORT_THRESHOLD", 0),
		CommentProbe:             config.String("COMMENT_PROBE", ""),
		LaunchSettle:             config.Duration("LAUNCH_SETTLE", 0),
		RetryBackoff:             config.Duration("STAGE_RETRY_BACKOFF", 0),
		Policy:                   policyConfigFromEnv(),
	}
}

func policyConfigFromEnv() appagent.PolicyConfig {
	cfg := appagent.PolicyConfig{
		LikeChance:      config.Float("LIKE_CHANCE", 0),
		CommentChance:   config.Float("COMMENT_CHANCE", 0),
		QuickSkipChance: config.Float("QUICK_SKIP_CHANCE", 0),
		QuickSkipWatch:  config.Duration("QUICK_SKIP_WATCH", 0),
		WatchMin:        config.Duration("WATCH_MIN", 0),
		WatchMax:        config.Duration("WATCH_MAX", 0),
		AIComments:      config.Bool("AI_COMMENTS", false),
		CommentMaxSteps: config.Int("COMMENT_MAX_STEPS", 0),
	}
	if raw := config.String("COMMENT_TEMPLATES", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cfg.CommentTemplates = append(cfg.CommentTemplates, trimmed)
			}
		}
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
