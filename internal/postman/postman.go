// Package postman fans queued tweets out to every subscriber on a schedule.
package postman

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hypetrain/hypetrain/internal/config"
	"github.com/hypetrain/hypetrain/internal/metrics"
	"github.com/hypetrain/hypetrain/internal/models"
	"github.com/hypetrain/hypetrain/internal/social"
)

// TokenResolver yields a validated access token for a subscriber.
type TokenResolver interface {
	Resolve(ctx context.Context, twitterID string) (string, error)
}

// Actions performs the amplification calls.
type Actions interface {
	Like(ctx context.Context, req social.ActionRequest) social.ActionResult
	Retweet(ctx context.Context, req social.ActionRequest) social.ActionResult
}

// Config tunes the dispatch loop.
type Config struct {
	Interval    time.Duration
	Concurrency int
	ClaimLimit  int
	ClaimLease  time.Duration
}

// ConfigFromDispatch maps the dispatch configuration section.
func ConfigFromDispatch(cfg config.DispatchConfig) Config {
	return Config{
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
		ClaimLimit:  cfg.ClaimLimit,
		ClaimLease:  cfg.ClaimLease,
	}
}

// TickReport summarises one dispatch pass.
type TickReport struct {
	Claimed    int
	Dispatched int
	Reposts    int
	Records    int
	Skipped    int
	Failures   int
	Duration   time.Duration
}

// Postman drains the hype queue.
type Postman struct {
	queue    models.QueueRepository
	activity models.ActivityRepository
	accounts models.AccountRepository
	resolver TokenResolver
	actions  Actions
	cfg      Config
	metrics  *metrics.Pipeline
	logger   *slog.Logger

	running sync.Mutex
	wake    chan struct{}

	cron *cron.Cron
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a postman. Call Start to schedule it.
func New(
	queue models.QueueRepository,
	activity models.ActivityRepository,
	accounts models.AccountRepository,
	resolver TokenResolver,
	actions Actions,
	cfg Config,
	m *metrics.Pipeline,
	logger *slog.Logger,
) *Postman {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Postman{
		queue:    queue,
		activity: activity,
		accounts: accounts,
		resolver: resolver,
		actions:  actions,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Notify asks for an extra tick. It never blocks.
func (p *Postman) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start schedules the tick every Interval and listens for wake-ups. Ticks run
// with ctx; cancel it only to abandon an in-flight pass.
func (p *Postman) Start(ctx context.Context) error {
	cl := cronLogger{logger: p.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))

	schedule := fmt.Sprintf("@every %s", p.cfg.Interval)
	if _, err := c.AddFunc(schedule, func() { p.runTick(ctx, "schedule") }); err != nil {
		return fmt.Errorf("failed to schedule postman: %w", err)
	}

	p.cron = c
	p.stop = make(chan struct{})
	c.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.wake:
				p.runTick(ctx, "wake")
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	p.logger.Info("postman started", "interval", p.cfg.Interval, "concurrency", p.cfg.Concurrency)
	return nil
}

// Stop unschedules the postman and waits for a running tick to finish.
func (p *Postman) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	close(p.stop)
	p.wg.Wait()
	p.logger.Info("postman stopped")
}

// runTick skips the pass when another one is still running.
func (p *Postman) runTick(ctx context.Context, trigger string) {
	if !p.running.TryLock() {
		p.logger.Debug("postman tick already running", "trigger", trigger)
		return
	}
	defer p.running.Unlock()
	p.Tick(ctx)
}

// Tick claims pending entries and dispatches each of them to every
// subscriber. Failures are logged and counted; they never abort the pass.
func (p *Postman) Tick(ctx context.Context) TickReport {
	started := time.Now()
	var report TickReport

	entries, err := p.queue.ClaimPending(ctx, p.cfg.ClaimLimit, p.cfg.ClaimLease)
	if err != nil {
		p.logger.Error("failed to claim pending tweets", "error", err)
		report.Failures++
		return p.finish(ctx, started, report)
	}
	report.Claimed = len(entries)
	if len(entries) == 0 {
		return p.finish(ctx, started, report)
	}

	p.logger.Info("found tweets to hype in the queue", "count", len(entries))
	for _, entry := range entries {
		p.dispatchEntry(ctx, entry, &report)
	}

	return p.finish(ctx, started, report)
}

func (p *Postman) finish(ctx context.Context, started time.Time, report TickReport) TickReport {
	report.Duration = time.Since(started)
	if pending, err := p.queue.CountPending(ctx); err == nil {
		p.metrics.SetQueuePending(pending)
	}
	p.metrics.ObserveTick(report.Duration, report.Dispatched)
	if report.Claimed > 0 {
		p.logger.Info("postman tick finished",
			"claimed", report.Claimed,
			"dispatched", report.Dispatched,
			"records", report.Records,
			"skipped", report.Skipped,
			"failures", report.Failures,
			"duration", report.Duration)
	}
	return report
}

type outcome int

const (
	outcomeRecorded outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Postman) dispatchEntry(ctx context.Context, entry models.QueueEntry, report *TickReport) {
	logger := p.logger.With("tweet_id", entry.TweetID, "author_id", entry.AuthorID)

	if entry.IsRetweet() {
		logger.Info("retweets are not hyped")
		report.Reposts++
	} else {
		subscribers, err := p.accounts.ListSubscribers(ctx)
		if err != nil {
			// The claim lease expires and a later tick picks the entry up again.
			logger.Error("failed to list subscribers", "error", err)
			report.Failures++
			return
		}

		var recipients []models.Subscriber
		for _, sub := range subscribers {
			if sub.TwitterID == entry.AuthorID {
				continue
			}
			recipients = append(recipients, sub)
		}

		outcomes := make([]outcome, len(recipients))
		var g errgroup.Group
		g.SetLimit(p.cfg.Concurrency)
		for i, sub := range recipients {
			g.Go(func() error {
				outcomes[i] = p.dispatchTo(ctx, entry, sub)
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			switch o {
			case outcomeRecorded:
				report.Records++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failures++
			}
		}
	}

	if err := p.queue.MarkDispatched(ctx, entry.TweetID); err != nil {
		logger.Error("failed to mark tweet as hyped", "error", err)
		report.Failures++
		return
	}
	report.Dispatched++
	logger.Info("removing tweet from the queue", "event", "TWEET-REMOVED-FROM-HYPEQUEUE")
}

func (p *Postman) dispatchTo(ctx context.Context, entry models.QueueEntry, sub models.Subscriber) outcome {
	logger := p.logger.With(
		"tweet_id", entry.TweetID,
		"user_id", sub.ID,
		"twitter_id", sub.TwitterID,
	)

	token, err := p.resolver.Resolve(ctx, sub.TwitterID)
	if err != nil {
		logger.Error("skipping subscriber without usable credentials", "error", err)
		return outcomeSkipped
	}

	req := social.ActionRequest{
		TwitterID:   sub.TwitterID,
		AccessToken: token,
		TweetID:     entry.TweetID,
	}
	record := models.ActivityRecord{
		TweetID:   entry.TweetID,
		AuthorID:  entry.AuthorID,
		UserID:    sub.ID,
		TwitterID: sub.TwitterID,
	}

	if sub.LikeTweets {
		record.Liked = p.actions.Like(ctx, req).OK
	}
	if sub.RetweetTweets {
		record.Retweeted = p.actions.Retweet(ctx, req).OK
	}

	if err := p.activity.Record(ctx, record); err != nil {
		logger.Error("failed to record activity", "error", err)
		return outcomeFailed
	}
	logger.Info("recorded activity",
		"liked", record.Liked,
		"retweeted", record.Retweeted)
	return outcomeRecorded
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
