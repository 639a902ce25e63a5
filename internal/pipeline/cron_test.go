package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule_Next(t *testing.T) {
	base := time.Date(2026, 3, 4, 10, 7, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 4, 10, 8, 0, 0, time.UTC)},
		{"*/5 * * * *", time.Date(2026, 3, 4, 10, 10, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"15,45 * * * *", time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC)},
		{"0 0 * * 1-5", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 7", time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)},
		{"30/10 * * * *", time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)},
		{"@every 90s", base.Add(90 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := ParseSchedule(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(base))
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"@every",
		"@every 10ms",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseSchedule(expr)
			assert.Error(t, err)
		})
	}
}

func TestParseSchedule_NeverFires(t *testing.T) {
	sched, err := ParseSchedule("0 0 31 2 *")
	require.NoError(t, err)
	assert.True(t, sched.Next(time.Now()).IsZero())
}

type fakeArchiver struct {
	runs, cycles int64
	err          error
	cutoff       time.Time
}

func (f *fakeArchiver) ArchiveRuns(_ context.Context, before time.Time) (int64, error) {
	f.cutoff = before
	return f.runs, f.err
}

func (f *fakeArchiver) ArchiveCycles(context.Context, time.Time) (int64, error) {
	return f.cycles, nil
}

func TestArchiver_Run(t *testing.T) {
	fa := &fakeArchiver{runs: 3, cycles: 2}
	a := NewArchiver(fa, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -30), fa.cutoff)

	fa.err = errors.New("s3 down")
	assert.ErrorContains(t, a.Run(context.Background()), "s3 down")
}
