package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/logger"
	"github.com/jobhound/jobhound/internal/pipeline"
	"github.com/jobhound/jobhound/internal/posting"
)

// stateOrder is the display order for state counts, lifecycle first.
var stateOrder = []posting.State{
	posting.StateDiscovered,
	posting.StateScored,
	posting.StatePendingApproval,
	posting.StateReadyToSubmit,
	posting.StateSubmitting,
	posting.StateSubmitted,
	posting.StateFailedRetryable,
	posting.StateFailedPermanent,
	posting.StateNeedsReview,
	posting.StateRejected,
	posting.StateExpired,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show posting counts, today's submission budget and recent passes",
	Run: func(_ *cobra.Command, _ []string) {
		status()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func status() {
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

	counts, err := st.CountByState(ctx)
	if err != nil {
		logger.Fatal("counting postings", zap.Error(err))
	}

	fmt.Println("Postings by state:")
	total := 0
	for _, state := range stateOrder {
		if n := counts[state]; n > 0 {
			fmt.Printf("  %-17s %d\n", state, n)
			total += n
		}
	}
	fmt.Printf("  %-17s %d\n", "total", total)

	location, err := config.Location()
	if err != nil {
		logger.Fatal("loading the timezone", zap.Error(err))
	}

	from, to := pipeline.DayWindow(time.Now(), location)
	submitted, err := st.CountSubmittedBetween(ctx, from, to)
	if err != nil {
		logger.Fatal("counting today's submissions", zap.Error(err))
	}
	fmt.Printf("\nSubmitted today: %d of %d (%s day)\n", submitted, config.Match.DailyCap, config.Match.Timezone)

	runs, err := st.RecentRuns(ctx, 5)
	if err != nil {
		logger.Fatal("listing recent passes", zap.Error(err))
	}
	if len(runs) == 0 {
		return
	}

	fmt.Println("\nRecent passes:")
	for _, r := range runs {
		mode := ""
		if r.DryRun {
			mode = " (dry run)"
		}
		fmt.Printf("  %s%s  discovered %d, scored %d, submitted %d, failed %d, errors %d\n",
			r.StartedAt.In(location).Format(time.RFC3339), mode,
			r.Discovered, r.Scored, r.Submitted, r.Failed, r.Errors)
	}
}
