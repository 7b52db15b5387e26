package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"lms-zabbix-sync/core/config"
	"lms-zabbix-sync/core/logger"
	"lms-zabbix-sync/core/queue"
	"lms-zabbix-sync/core/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags for the replay command
	replayReason string
	replayLimit  int
	replayKeep   bool
	replayDryRun bool
	yesConfirm   bool
)

// replayCmd republishes archived dead letters to the trigger queue.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish archived dead letters to the queue",
	Long: `Lists dead letters in the archive bucket and publishes their original
message bodies to the trigger queue again, e.g. after fixing the Zabbix side of
a rejected change. Replayed objects are removed unless --keep is given.

Examples:
  # Show what would be replayed
  replay --dry-run

  # Replay rejected changes only, without prompting
  replay --reason rejected --yes`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayReason, "reason", "", "Only replay dead letters with this reason (malformed, rejected)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "Replay at most this many dead letters (0 = all)")
	replayCmd.Flags().BoolVar(&replayKeep, "keep", false, "Keep archived objects after replaying")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "List dead letters without publishing")
	replayCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm (non-interactive)")

	RootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	archive := storage.NewArchive(client, cfg.Storage.Bucket, cfg.Storage.Prefix)

	keys, err := archive.List(ctx)
	if err != nil {
		return err
	}

	var letters []replayItem
	for _, key := range keys {
		dl, err := archive.Get(ctx, key)
		if err != nil {
			l.Warn("Skipping unreadable dead letter", zap.String("key", key), zap.Error(err))
			continue
		}
		if replayReason != "" && dl.Reason != replayReason {
			continue
		}
		letters = append(letters, replayItem{key: key, letter: dl})
		if replayLimit > 0 && len(letters) >= replayLimit {
			break
		}
	}

	printReplayPlan(l, letters)
	if len(letters) == 0 {
		l.Info("Nothing to replay.")
		return nil
	}
	if replayDryRun {
		l.Info("Dry-run mode: No messages were published.")
		return nil
	}
	if !confirmReplay() {
		l.Warn("Replay cancelled by user. No messages were published.")
		return nil
	}

	pub, err := queue.NewPublisher(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer pub.Close()

	replayed := 0
	for _, item := range letters {
		if err := pub.Publish(ctx, item.letter.MessageID, item.letter.Body); err != nil {
			return fmt.Errorf("replayed %d of %d: %w", replayed, len(letters), err)
		}
		replayed++
		if replayKeep {
			continue
		}
		if err := archive.Remove(ctx, item.key); err != nil {
			l.Warn("Published but could not remove dead letter", zap.String("key", item.key), zap.Error(err))
		}
	}

	l.Info("Successfully replayed dead letters", zap.Int("count", replayed))
	return nil
}

type replayItem struct {
	key    string
	letter storage.DeadLetter
}

// printReplayPlan logs a summary and a sample of the dead letters to replay.
func printReplayPlan(l *zap.Logger, items []replayItem) {
	byReason := make(map[string]int)
	for _, item := range items {
		byReason[item.letter.Reason]++
	}
	l.Info("Replay plan",
		zap.Int("total", len(items)),
		zap.Int("malformed", byReason[storage.ReasonMalformed]),
		zap.Int("rejected", byReason[storage.ReasonRejected]),
	)

	maxShow := min(5, len(items))
	for _, item := range items[:maxShow] {
		l.Info("Sample dead letter",
			zap.String("key", item.key),
			zap.String("reason", item.letter.Reason),
			zap.Int64("device_id", item.letter.DeviceID),
			zap.String("error", item.letter.Error),
		)
	}
	if len(items) > maxShow {
		l.Info("Additional dead letters not shown", zap.Int("count", len(items)-maxShow))
	}
}

// confirmReplay prompts the user for confirmation or uses the --yes flag.
func confirmReplay() bool {
	if yesConfirm {
		fmt.Println("\n✓ Auto-confirmed via --yes flag")
		return true
	}

	fmt.Print("\nType 'yes' to publish these messages again: ")
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(response) == "yes"
}
