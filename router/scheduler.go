package router

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/kgassist/logging"
)

// RefreshScheduler refreshes a catalog on a cron schedule.
type RefreshScheduler struct {
	cron    *cron.Cron
	catalog *Catalog
	timeout time.Duration
	logger  logging.Logger
}

// NewRefreshScheduler schedules catalog refreshes. spec is a standard
// five-field cron expression or a descriptor like "@every 5m".
func NewRefreshScheduler(catalog *Catalog, spec string, logger logging.Logger) (*RefreshScheduler, error) {
	s := &RefreshScheduler{
		cron:    cron.New(),
		catalog: catalog,
		timeout: 30 * time.Second,
		logger:  logging.OrNoOp(logger),
	}
	if _, err := s.cron.AddFunc(spec, s.refresh); err != nil {
		return nil, fmt.Errorf("schedule refresh %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the scheduler.
func (s *RefreshScheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for a running refresh.
func (s *RefreshScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *RefreshScheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.catalog.Refresh(ctx); err != nil {
		s.logger.Error("router.refresh.scheduled_failed", "error", err)
	}
}
