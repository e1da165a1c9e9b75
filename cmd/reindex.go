package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/indexer"
)

// newReindexCmd creates the 'reindex' subcommand.
func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-runs the indexing pipeline over every ledger URL",
		Long: `Feeds all previously crawled URLs back through the indexing
pipeline. Already indexed URLs are skipped, so this backfills images that
failed to download or embed on earlier runs without touching the crawl
sources.`,
		RunE: runReindexCommand,
	}
}

func runReindexCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	urls := appInstance.Ledger().URLs()
	if len(urls) == 0 {
		logger.Info("ledger is empty, nothing to reindex")
		return nil
	}

	results := appInstance.Pipeline().Process(cmd.Context(), urls)
	counts := make(map[indexer.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}

	if err := appInstance.Pipeline().Persist(cmd.Context()); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	logger.Info("reindex finished",
		zap.Int("urls", len(urls)),
		zap.Int("indexed", counts[indexer.OutcomeIndexed]),
		zap.Int("duplicate", counts[indexer.OutcomeDuplicate]),
		zap.Int("download_failed", counts[indexer.OutcomeDownloadFailed]),
		zap.Int("not_image", counts[indexer.OutcomeNotImage]),
		zap.Int("no_face", counts[indexer.OutcomeNoFace]),
		zap.Int("embed_failed", counts[indexer.OutcomeEmbedFailed]),
		zap.Int("index_size", appInstance.Index().Len()),
	)
	return nil
}
