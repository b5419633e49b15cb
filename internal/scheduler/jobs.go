package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	PrefetchJobName        = "theme_prefetch"
	ManifestRefreshJobName = "theme_manifest_refresh"
	prefetchJobTimeout     = 30 * time.Second
	refreshJobTimeout      = time.Minute
)

// Prefetcher warms theme stylesheets.
type Prefetcher interface {
	Prefetch(ctx context.Context) error
}

// Refresher reloads the theme registry.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RegisterPrefetchJob runs one background prefetch after delay.
func RegisterPrefetchJob(s *Service, prefetcher Prefetcher, delay time.Duration) error {
	if prefetcher == nil {
		return fmt.Errorf("prefetch job requires a prefetcher")
	}
	jobLogger := log.With().Str("component", "theme_prefetch_job").Logger()

	_, err := s.RunOnce(PrefetchJobName, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), prefetchJobTimeout)
		defer cancel()
		ctx = jobLogger.WithContext(ctx)

		if err := prefetcher.Prefetch(ctx); err != nil {
			jobLogger.Warn().Err(err).Msg("Theme prefetch failed")
			return
		}
		jobLogger.Debug().Msg("Theme prefetch finished")
	})
	return err
}

// RegisterManifestRefreshJob reloads the registry on cronExpr.
func RegisterManifestRefreshJob(s *Service, refresher Refresher, cronExpr string) error {
	if refresher == nil {
		return fmt.Errorf("manifest refresh job requires a refresher")
	}
	jobLogger := log.With().
		Str("component", "theme_manifest_refresh_job").
		Str("cron", cronExpr).
		Logger()

	_, err := s.AddJob(ManifestRefreshJobName, cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshJobTimeout)
		defer cancel()
		ctx = jobLogger.WithContext(ctx)

		if err := refresher.Refresh(ctx); err != nil {
			jobLogger.Error().Err(err).Msg("Theme manifest refresh failed")
			return
		}
		jobLogger.Info().Msg("Theme manifest refreshed")
	})
	return err
}
