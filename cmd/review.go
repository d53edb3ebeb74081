package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/logger"
	"github.com/jobhound/jobhound/internal/notify"
	"github.com/jobhound/jobhound/internal/pipeline"
	"github.com/jobhound/jobhound/internal/posting"
)

const (
	PromptApprove = "Approve"
	PromptReject  = "Reject"
	PromptSkip    = "Skip"
	PromptQuit    = "Quit"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk through postings waiting for approval and decide each one",
	Run: func(_ *cobra.Command, _ []string) {
		review()
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func review() {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	st, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("opening the posting store", zap.Error(err))
	}
	defer st.Close()

	pending, err := st.ListByState(ctx, posting.StatePendingApproval)
	if err != nil {
		logger.Fatal("listing pending postings", zap.Error(err))
	}

	if len(pending) == 0 {
		logger.Info("exiting", zap.String("reason", "nothing waiting for approval"))
		return
	}

	logger.Info("postings waiting for approval", zap.Int("count", len(pending)))

	// The console gate shares the transition rules with the pipeline, so a
	// decision made here looks exactly like one made over Telegram.
	gate := pipeline.NewGate(st, notify.NewConsole(logger), config.Approval.Timeout, logger)

	for _, p := range pending {
		fmt.Printf("\n%s at %s (score %.2f)\n", p.Title, p.Company, p.ScoreValue())
		if p.ScoreReason != "" {
			fmt.Println(p.ScoreReason)
		}
		if p.URL != "" {
			fmt.Println(p.URL)
		}

		prompt := promptui.Select{
			Label: "Decision",
			Items: []string{PromptApprove, PromptReject, PromptSkip, PromptQuit},
		}

		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		switch action {
		case PromptApprove:
			if err := gate.Approve(ctx, p.Fingerprint); err != nil {
				logger.Fatal("approving the posting", zap.Error(err))
			}
			logger.Info("approved, will submit on the next pass", zap.String("title", p.Title))
		case PromptReject:
			if err := gate.Reject(ctx, p.Fingerprint); err != nil {
				logger.Fatal("rejecting the posting", zap.Error(err))
			}
			logger.Info("rejected", zap.String("title", p.Title))
		case PromptSkip:
			continue
		case PromptQuit:
			return
		}
	}
}
