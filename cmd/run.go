package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/ai/gemini"
	"github.com/jobhound/jobhound/internal/config"
	"github.com/jobhound/jobhound/internal/logger"
	"github.com/jobhound/jobhound/internal/notify"
	"github.com/jobhound/jobhound/internal/pipeline"
	"github.com/jobhound/jobhound/internal/profile"
	"github.com/jobhound/jobhound/internal/scorer"
	"github.com/jobhound/jobhound/internal/secrets"
	"github.com/jobhound/jobhound/internal/source"
	"github.com/jobhound/jobhound/internal/store"
	"github.com/jobhound/jobhound/internal/submit"
	"github.com/jobhound/jobhound/internal/tailor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full pipeline pass, or keep passing on a schedule",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("dry-run", false, "score and route postings without sending approvals or submitting")
	runCmd.Flags().String("schedule", "", "cron spec to keep passing on, e.g. '0 */4 * * *' (default is a single pass)")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting jobhound", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	schedule, _ := cmd.Flags().GetString("schedule")

	st, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("opening the posting store", zap.Error(err))
	}
	defer st.Close()

	pl, err := buildPipeline(ctx, config, st, dryRun, logger)
	if err != nil {
		logger.Fatal("building the pipeline", zap.Error(err))
	}

	if schedule == "" {
		if _, err := pl.Run(ctx, dryRun); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("pass interrupted")
				return
			}
			logger.Fatal("pass failed", zap.Error(err))
		}
		return
	}

	runScheduled(ctx, pl, schedule, dryRun, logger)
}

// openStore picks the store backend from the config and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DSN)
	default:
		if dir := filepath.Dir(cfg.Store.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating store directory %q: %w", dir, err)
			}
		}
		st, err = store.NewSQLite(cfg.Store.DSN)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}

	return st, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, st store.Store, dryRun bool, logger *zap.Logger) (*pipeline.Pipeline, error) {
	prof, err := profile.Load(cfg.Profile.ResumeFile, cfg.Profile.UserInfoFile)
	if err != nil {
		return nil, err
	}
	// A dry run never submits, so it may run with an incomplete profile.
	if !dryRun {
		if err := prof.UserInfo.ValidateForSubmission(); err != nil {
			return nil, err
		}
	}

	sources, err := buildSources(cfg, logger)
	if err != nil {
		return nil, err
	}

	jobScorer, jobTailor, err := buildAI(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	executor, err := buildExecutor(cfg, logger)
	if err != nil {
		return nil, err
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Params{
		Store:    st,
		Sources:  sources,
		Scorer:   jobScorer,
		Tailor:   jobTailor,
		Executor: executor,
		Notifier: notifier,
		Profile:  prof,
		Match:    cfg.Match,
		Screen:   cfg.Screen,
		Approval: cfg.Approval,
		Location: location,
		Logger:   logger,
	}), nil
}

func buildSources(cfg *config.Config, logger *zap.Logger) (*source.Registry, error) {
	var srcs []source.Source

	if cfg.Sources.RemoteOK.Enabled {
		srcs = append(srcs, source.NewRemoteOK(cfg.Sources.RemoteOK.BaseURL, cfg.Sources.RemoteOK.Tags, logger))
	}

	if cfg.Sources.Adzuna.Enabled {
		appKey, err := secrets.Load(secrets.Source{
			Name: "adzuna app key",
			File: cfg.Sources.Adzuna.AppKeyFile,
			Env:  "ADZUNA_APP_KEY",
		})
		if err != nil {
			return nil, err
		}

		srcs = append(srcs, source.NewAdzuna(
			cfg.Sources.Adzuna.BaseURL,
			cfg.Sources.Adzuna.AppID,
			appKey,
			cfg.Sources.Adzuna.Country,
			cfg.Sources.Adzuna.Keywords,
			cfg.Sources.Adzuna.MaxPages,
			logger,
		))
	}

	return source.NewRegistry(logger, srcs...), nil
}

func buildAI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (scorer.Scorer, tailor.Tailor, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.AI.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.AI.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.AI.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.AI.Gemini.Model, cfg.AI.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, nil, err
	}

	return scorer.NewGemini(generator, logger, cfg.AI.Gemini.Timeout, cfg.AI.Gemini.MaxLogLength),
		tailor.NewGemini(generator, logger, cfg.AI.Gemini.Timeout, cfg.AI.Gemini.MaxLogLength),
		nil
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	if cfg.Approval.Transport != "telegram" {
		return notify.NewConsole(logger), nil
	}

	token, err := secrets.Load(secrets.Source{
		Name: "telegram bot token",
		File: cfg.Telegram.TokenFile,
		Env:  "TELEGRAM_BOT_TOKEN",
	})
	if err != nil {
		return nil, err
	}

	return notify.NewTelegram(token, cfg.Telegram.ChatID, logger), nil
}

func buildExecutor(cfg *config.Config, logger *zap.Logger) (submit.Executor, error) {
	var token string
	if cfg.Agent.TokenFile != "" {
		var err error
		token, err = secrets.Load(secrets.Source{
			Name: "browser agent token",
			File: cfg.Agent.TokenFile,
		})
		if err != nil {
			return nil, err
		}
	}

	return submit.NewAgent(
		cfg.Agent.BaseURL,
		token,
		cfg.Agent.EvidenceDir,
		cfg.Agent.MinInterval,
		cfg.Agent.SubmitTimeout,
		logger,
	), nil
}

// runScheduled keeps passing on the cron spec until interrupted. The first
// pass starts right away; a pass that overruns its slot makes the scheduler
// skip the next one instead of stacking passes.
func runScheduled(ctx context.Context, pl *pipeline.Pipeline, spec string, dryRun bool, logger *zap.Logger) {
	pass := func() {
		if _, err := pl.Run(ctx, dryRun); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("pass failed", zap.Error(err))
		}
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{logger}),
	))
	if _, err := c.AddFunc(spec, pass); err != nil {
		logger.Fatal("parsing the schedule", zap.String("schedule", spec), zap.Error(err))
	}

	pass()

	c.Start()
	logger.Info("scheduler started", zap.String("schedule", spec))

	<-ctx.Done()
	logger.Info("shutting down, waiting for the current pass to finish")
	<-c.Stop().Done()
}

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
