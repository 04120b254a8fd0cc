package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/repository"
)

type fakeLister struct {
	entries []domain.FollowupEntry
	err     error
	filter  repository.FollowupFilter
}

func (f *fakeLister) ListFollowups(_ context.Context, filter repository.FollowupFilter) ([]domain.FollowupEntry, error) {
	f.filter = filter
	return f.entries, f.err
}

type capturingSender struct {
	to, text string
	calls    int
	err      error
}

func (s *capturingSender) Send(_ context.Context, to, text string) error {
	s.calls++
	s.to, s.text = to, text
	return s.err
}

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return loc
}

func nightEntries() []domain.FollowupEntry {
	return []domain.FollowupEntry{
		{ID: "b", Phone: "01022223333", Memo: "파티 신청할게요", CreatedAt: time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC)},
		{ID: "a", Phone: "01011112222", Memo: "체크인 몇 시에요?", CreatedAt: time.Date(2026, 3, 1, 18, 5, 0, 0, time.UTC)},
	}
}

func TestNewDigest_Validates(t *testing.T) {
	_, err := NewDigest(nil, &capturingSender{}, "0 10 * * *")
	require.Error(t, err)
	_, err = NewDigest(&fakeLister{}, nil, "0 10 * * *")
	require.Error(t, err)
	_, err = NewDigest(&fakeLister{}, &capturingSender{}, "every morning")
	require.ErrorContains(t, err, "parse cron expression")
}

func TestDigest_NextUsesGuesthouseTimezone(t *testing.T) {
	d, err := NewDigest(&fakeLister{}, &capturingSender{}, " 0  10 * * * ", WithLocation(seoul(t)))
	require.NoError(t, err)

	next := d.Next(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))
	require.True(t, time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC).Equal(next), next.String())
}

func TestDigest_RunOnceSendsSummary(t *testing.T) {
	lister := &fakeLister{entries: nightEntries()}
	sender := &capturingSender{}
	d, err := NewDigest(lister, sender, "0 10 * * *", WithLocation(seoul(t)), WithStaffPhone(" 01099998888 "))
	require.NoError(t, err)

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, repository.FollowupFilter{Status: domain.FollowupPending, Reason: domain.ReasonNightAction, Limit: digestLimit}, lister.filter)
	require.True(t, report.Sent)
	require.Equal(t, 2, report.Count)
	require.Equal(t, "01099998888", sender.to)
	require.Equal(t, "[야간 문의 2건]\n1. 03:05 01011112222 체크인 몇 시에요?\n2. 04:30 01022223333 파티 신청할게요", sender.text)
}

func TestDigest_RunOnceWithoutStaffPhoneOnlyLogs(t *testing.T) {
	sender := &capturingSender{}
	d, err := NewDigest(&fakeLister{entries: nightEntries()}, sender, "0 10 * * *")
	require.NoError(t, err)

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, report.Sent)
	require.Equal(t, 2, report.Count)
	require.NotEmpty(t, report.Text)
	require.Zero(t, sender.calls)
}

func TestDigest_RunOnceEmptyQueue(t *testing.T) {
	sender := &capturingSender{}
	d, err := NewDigest(&fakeLister{}, sender, "0 10 * * *", WithStaffPhone("010"))
	require.NoError(t, err)

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{}, report)
	require.Zero(t, sender.calls)
}

func TestDigest_RunOnceErrors(t *testing.T) {
	d, err := NewDigest(&fakeLister{err: errors.New("throttled")}, &capturingSender{}, "0 10 * * *")
	require.NoError(t, err)
	_, err = d.RunOnce(context.Background())
	require.ErrorContains(t, err, "throttled")

	sender := &capturingSender{err: errors.New("gateway down")}
	d, err = NewDigest(&fakeLister{entries: nightEntries()}, sender, "0 10 * * *", WithStaffPhone("010"))
	require.NoError(t, err)
	report, err := d.RunOnce(context.Background())
	require.ErrorContains(t, err, "gateway down")
	require.False(t, report.Sent)
}

func TestPreview_TruncatesByRune(t *testing.T) {
	long := strings.Repeat("가", memoPreview+5)
	require.Equal(t, strings.Repeat("가", memoPreview)+"…", preview(long))
	require.Equal(t, "a b", preview(" a \n b "))
}

func TestDigest_StartStopsOnCancel(t *testing.T) {
	d, err := NewDigest(&fakeLister{}, &capturingSender{}, "@every 1h")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
