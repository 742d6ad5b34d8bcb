package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/models"
	"github.com/tavolohq/tavolo/pkg/logger"
)

const (
	defaultReceiptRetentionDays  = 90
	defaultInactiveRetentionDays = 180
	defaultCleanupSpec           = "@daily"
)

// Cleaner coordinates background maintenance tasks: pruning aged delivery
// receipts and removing subscriptions that have been inactive long enough
// that the browser will never present them again.
type Cleaner struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	receiptRetention  int
	inactiveRetention int
	schedule          string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithReceiptRetentionDays adjusts how long delivery receipts are retained.
func WithReceiptRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.receiptRetention = days
		}
	}
}

// WithInactiveRetentionDays adjusts how long deactivated subscriptions are kept.
func WithInactiveRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.inactiveRetention = days
		}
	}
}

// WithSchedule overrides the cron specification for the cleanup job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                db,
		now:               time.Now,
		receiptRetention:  defaultReceiptRetentionDays,
		inactiveRetention: defaultInactiveRetentionDays,
		schedule:          defaultCleanupSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("delivery data cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if _, err := PruneReceipts(ctx, c.db, c.now().AddDate(0, 0, -c.receiptRetention)); err != nil {
		errs = multierr.Append(errs, err)
	}

	if _, err := PruneInactiveSubscriptions(ctx, c.db, c.now().AddDate(0, 0, -c.inactiveRetention)); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// PruneReceipts removes delivery receipts attempted before the cutoff.
func PruneReceipts(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune receipts: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("attempted_at < ?", cutoff).
		Delete(&models.DeliveryReceipt{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune receipts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneInactiveSubscriptions removes subscriptions deactivated before the cutoff.
func PruneInactiveSubscriptions(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune subscriptions: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", false, cutoff).
		Delete(&models.PushSubscription{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune subscriptions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
