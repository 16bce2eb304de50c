// Package scheduler periodically reports cache occupancy so operators can
// watch for runaway tenant growth without scraping Prometheus directly.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StatusSource is anything whose current entry count is worth reporting.
type StatusSource interface {
	Len() int
}

// CacheStatusReporter wraps robfig/cron and logs cache occupancy on a fixed
// interval.
type CacheStatusReporter struct {
	cron    *cron.Cron
	logger  *zap.Logger
	sources map[string]StatusSource
}

// NewCacheStatusReporter builds a reporter over the given named caches.
func NewCacheStatusReporter(logger *zap.Logger, sources map[string]StatusSource) *CacheStatusReporter {
	return &CacheStatusReporter{
		cron:    cron.New(),
		logger:  logger,
		sources: sources,
	}
}

// Start registers the status report job and starts the scheduler. Call
// Stop to gracefully shut down.
func (r *CacheStatusReporter) Start() error {
	if _, err := r.cron.AddFunc("@every 1m", r.report); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("cache status reporter started", zap.Int("caches", len(r.sources)))
	return nil
}

// Stop gracefully stops the reporter.
func (r *CacheStatusReporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cache status reporter stopped")
}

func (r *CacheStatusReporter) report() {
	for name, src := range r.sources {
		r.logger.Info("cache occupancy", zap.String("cache", name), zap.Int("entries", src.Len()))
	}
}
