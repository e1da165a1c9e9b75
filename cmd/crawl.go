package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand running one crawl pass.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl pass over all sources",
		Long: `Walks the configured image search providers in order, feeds fresh
URLs through the indexing pipeline and persists the index. Respects the
post-CAPTCHA cooldown: a blocked crawler exits without contacting any
source.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	orch := appInstance.Orchestrator()
	if err := orch.Run(cmd.Context()); err != nil {
		if errors.Is(err, crawler.ErrCoolingDown) {
			logger.Warn("crawl skipped",
				zap.Time("cooldown_until", orch.CooldownUntil()),
			)
			return err
		}
		return err
	}

	snap := orch.Snapshot()
	logger.Info("crawl pass finished",
		zap.String("status", string(snap.Status)),
		zap.Bool("captcha_required", snap.CaptchaRequired),
		zap.Int("new_urls", len(snap.CollectedURLs)),
		zap.Int("index_size", appInstance.Index().Len()),
	)
	return nil
}
