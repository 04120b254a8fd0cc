package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/repository"
)

const (
	digestLimit  = 100
	memoPreview  = 40
	digestHeader = "[야간 문의 %d건]"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type FollowupLister interface {
	ListFollowups(ctx context.Context, filter repository.FollowupFilter) ([]domain.FollowupEntry, error)
}

type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Digest hands the follow-ups deferred overnight to staff in one message.
type Digest struct {
	store      FollowupLister
	sender     Sender
	expr       string
	schedule   cron.Schedule
	staffPhone string
	location   *time.Location
	logger     *slog.Logger
}

type Option func(*Digest)

func WithLocation(loc *time.Location) Option {
	return func(d *Digest) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithStaffPhone sets the recipient. Without one the digest is only logged.
func WithStaffPhone(phone string) Option {
	return func(d *Digest) {
		d.staffPhone = strings.TrimSpace(phone)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Digest) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDigest(store FollowupLister, sender Sender, expr string, opts ...Option) (*Digest, error) {
	if store == nil {
		return nil, errors.New("scheduler: store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("scheduler: sender must not be nil")
	}
	expr = strings.Join(strings.Fields(expr), " ")
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse cron expression %q: %w", expr, err)
	}
	d := &Digest{
		store:    store,
		sender:   sender,
		expr:     expr,
		schedule: schedule,
		location: time.UTC,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Next is the first run after from, evaluated in the guesthouse timezone.
func (d *Digest) Next(from time.Time) time.Time {
	return d.schedule.Next(from.In(d.location))
}

// Start runs the digest on schedule until ctx is cancelled, then waits for a
// running digest to finish.
func (d *Digest) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(d.location), cron.WithParser(cronParser))
	if _, err := c.AddFunc(d.expr, func() {
		if _, err := d.RunOnce(ctx); err != nil {
			d.logger.ErrorContext(ctx, "digest run failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: add digest job: %w", err)
	}
	c.Start()
	d.logger.InfoContext(ctx, "digest scheduled", "schedule", d.expr, "timezone", d.location.String())

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type Report struct {
	Count int
	Sent  bool
	Text  string
}

// RunOnce collects pending night follow-ups and sends the summary. Nothing is
// sent when the queue is empty.
func (d *Digest) RunOnce(ctx context.Context) (Report, error) {
	entries, err := d.store.ListFollowups(ctx, repository.FollowupFilter{
		Status: domain.FollowupPending,
		Reason: domain.ReasonNightAction,
		Limit:  digestLimit,
	})
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: RunOnce: %w", err)
	}
	report := Report{Count: len(entries)}
	if len(entries) == 0 {
		d.logger.InfoContext(ctx, "digest skipped, no pending night follow-ups")
		return report, nil
	}

	report.Text = d.summarize(entries)
	if d.staffPhone == "" {
		d.logger.InfoContext(ctx, "digest ready, no staff phone configured", "count", report.Count, "text", report.Text)
		return report, nil
	}
	if err := d.sender.Send(ctx, d.staffPhone, report.Text); err != nil {
		return report, fmt.Errorf("scheduler: RunOnce send: %w", err)
	}
	report.Sent = true
	d.logger.InfoContext(ctx, "digest sent", "count", report.Count)
	return report, nil
}

func (d *Digest) summarize(entries []domain.FollowupEntry) string {
	sorted := make([]domain.FollowupEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var b strings.Builder
	fmt.Fprintf(&b, digestHeader, len(sorted))
	for i, f := range sorted {
		fmt.Fprintf(&b, "\n%d. %s %s %s",
			i+1,
			f.CreatedAt.In(d.location).Format("15:04"),
			f.Phone,
			preview(f.Memo),
		)
	}
	return b.String()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= memoPreview {
		return s
	}
	return string(r[:memoPreview]) + "…"
}
