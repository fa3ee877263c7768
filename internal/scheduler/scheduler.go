// Package scheduler periodically delivers referral digests to every chat with
// complete personal data.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"emias_bot/internal/domain"
	"emias_bot/internal/emias"
	"emias_bot/internal/feature/digest"
	"emias_bot/internal/logging"
	"emias_bot/internal/render"
)

const (
	defaultInterval    = 30 * time.Minute
	defaultWorkers     = 4
	defaultUserTimeout = 2 * time.Minute
	notifyTimeout      = 15 * time.Second
)

// EligibleLister lists the records to poll.
type EligibleLister interface {
	ListEligible(ctx context.Context) ([]domain.Record, error)
}

// DigestBuilder renders one user's digest.
type DigestBuilder interface {
	Build(ctx context.Context, record domain.Record) (digest.Digest, error)
}

// Notifier delivers a message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string, markup *models.InlineKeyboardMarkup) error
}

// StatsSource feeds the record gauges at the start of every tick.
type StatsSource interface {
	CountRecords(ctx context.Context) (int64, error)
	CountEligible(ctx context.Context) (int64, error)
}

// Metrics receives per-tick and per-user outcomes.
type Metrics interface {
	ObservePollRun(outcome string, elapsed time.Duration)
	ObservePollUser(outcome string)
	SetRecordCounts(total, eligible int64)
}

// Per-user outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
)

// Summary describes one tick.
type Summary struct {
	RunID     string
	Users     int
	Delivered int
	Failed    int
}

// Poller runs the digest pipeline for every eligible record on a fixed
// interval. Users are processed by a bounded worker pool and each user is
// bounded by its own timeout.
type Poller struct {
	records     EligibleLister
	builder     DigestBuilder
	notifier    Notifier
	stats       StatsSource
	metrics     Metrics
	logger      *logrus.Entry
	interval    time.Duration
	workers     int
	userTimeout time.Duration
}

// Option customizes a Poller.
type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithWorkers(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithUserTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.userTimeout = d
		}
	}
}

func WithStats(stats StatsSource) Option {
	return func(p *Poller) {
		p.stats = stats
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(p *Poller) {
		p.metrics = metrics
	}
}

// newRunID is overridable for tests.
var newRunID = func() string {
	return uuid.NewString()
}

// NewPoller constructs a Poller.
func NewPoller(records EligibleLister, builder DigestBuilder, notifier Notifier, logger *logrus.Entry, opts ...Option) *Poller {
	if logger == nil {
		logger = logging.Logger()
	}

	p := &Poller{
		records:     records,
		builder:     builder,
		notifier:    notifier,
		logger:      logger,
		interval:    defaultInterval,
		workers:     defaultWorkers,
		userTimeout: defaultUserTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Run polls immediately and then every interval until ctx is done. Ticks never
// overlap.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.WithError(err).WithField("event", "poll_tick").Error("poll tick failed")
	}
}

// RunOnce performs a single tick. An error is returned only when the eligible
// records cannot be listed; per-user failures are counted in the summary.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: newRunID()}
	log := logging.Enrich(p.logger, logging.Context{Event: "poll_tick", RequestID: summary.RunID})

	p.refreshGauges(ctx, log)

	records, err := p.records.ListEligible(ctx)
	if err != nil {
		p.observeRun("error", time.Since(start))
		return summary, err
	}
	summary.Users = len(records)

	runID := summary.RunID
	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.workers)

	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.deliver(ctx, runID, record); err != nil {
				failed.Add(1)
			} else {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Delivered = int(delivered.Load())
	summary.Failed = int(failed.Load())

	outcome := "ok"
	if ctx.Err() != nil {
		outcome = "cancelled"
	}
	p.observeRun(outcome, time.Since(start))

	log.WithFields(logrus.Fields{
		"users":     summary.Users,
		"delivered": summary.Delivered,
		"failed":    summary.Failed,
		"duration":  time.Since(start).String(),
	}).Info("poll tick finished")

	return summary, nil
}

// DeliverTo builds and sends the digest for one record outside of a tick, as
// requested by the chat itself.
func (p *Poller) DeliverTo(ctx context.Context, record domain.Record) error {
	return p.deliver(ctx, newRunID(), record)
}

func (p *Poller) deliver(ctx context.Context, runID string, record domain.Record) error {
	log := logging.Enrich(p.logger, logging.Context{ChatID: record.ChatID, Event: "poll_user", RequestID: runID})

	userCtx, cancel := context.WithTimeout(ctx, p.userTimeout)
	defer cancel()

	d, err := p.builder.Build(userCtx, record)
	if err != nil {
		p.observeUser(OutcomeFailed)
		if errors.Is(err, emias.ErrIncompleteRecord) {
			return err
		}
		// Shutdown is not an API failure; only the per-user deadline is reported.
		if ctx.Err() != nil {
			log.WithError(err).Debug("digest interrupted by shutdown")
			return err
		}
		log.WithError(err).WithField("event", "poll_user_failed").Warn("failed to build digest")
		p.notify(ctx, log, record.ChatID, digest.ReferralsErrorNotice(err), nil)
		return err
	}

	if err := p.notify(ctx, log, record.ChatID, d.Text, render.MainKeyboard()); err != nil {
		p.observeUser(OutcomeFailed)
		return err
	}

	for _, failure := range d.Failures {
		log.WithError(failure.Err).WithField("referral_id", failure.ReferralID).Warn("failed to fetch providers")
		p.notify(ctx, log, record.ChatID, digest.ProvidersErrorNotice(failure), nil)
	}

	if len(d.Failures) > 0 {
		p.observeUser(OutcomePartial)
	} else {
		p.observeUser(OutcomeDelivered)
	}
	log.WithField("referrals", d.Referrals).Debug("digest delivered")

	return nil
}

// notify sends with its own short deadline so that a user whose pipeline
// timed out still gets the error message.
func (p *Poller) notify(ctx context.Context, log *logrus.Entry, chatID int64, text string, markup *models.InlineKeyboardMarkup) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := p.notifier.Notify(sendCtx, chatID, text, markup); err != nil {
		log.WithError(err).Warn("failed to send notification")
		return err
	}
	return nil
}

func (p *Poller) refreshGauges(ctx context.Context, log *logrus.Entry) {
	if p.stats == nil || p.metrics == nil {
		return
	}

	total, err := p.stats.CountRecords(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to count records")
		return
	}
	eligible, err := p.stats.CountEligible(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to count eligible records")
		return
	}

	p.metrics.SetRecordCounts(total, eligible)
}

func (p *Poller) observeRun(outcome string, elapsed time.Duration) {
	if p.metrics != nil {
		p.metrics.ObservePollRun(outcome, elapsed)
	}
}

func (p *Poller) observeUser(outcome string) {
	if p.metrics != nil {
		p.metrics.ObservePollUser(outcome)
	}
}
