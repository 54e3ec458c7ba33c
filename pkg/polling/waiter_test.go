package polling

import (
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequence struct {
	jobs  []turns.RenderJob
	errs  []error
	polls int
}

func (s *sequence) PollRender(ctx context.Context, jobID string) (turns.RenderJob, error) {
	idx := s.polls
	s.polls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return turns.RenderJob{}, s.errs[idx]
	}
	if idx < len(s.jobs) {
		return s.jobs[idx], nil
	}
	return turns.RenderJob{ID: jobID, Status: turns.RenderPending}, nil
}

type sleeps struct {
	n int
	d []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.n++
	s.d = append(s.d, d)
	return ctx.Err()
}

func TestWaiter_ReturnsImmediatelyOnFirstDone(t *testing.T) {
	seq := &sequence{jobs: []turns.RenderJob{{Status: turns.RenderDone, ResultURL: "https://cdn/x.mp4"}}}
	sl := &sleeps{}
	w := NewWaiter(seq, WithSleep(sl.sleep))

	url, err := w.AwaitCompletion(context.Background(), "tlk_1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.mp4", url)
	assert.Equal(t, 1, seq.polls)
	assert.Equal(t, 0, sl.n)
}

func TestWaiter_DoneAfterPending(t *testing.T) {
	seq := &sequence{jobs: []turns.RenderJob{
		{Status: turns.RenderPending},
		{Status: turns.RenderPending},
		{Status: turns.RenderDone, ResultURL: "u"},
	}}
	sl := &sleeps{}
	w := NewWaiter(seq, WithSleep(sl.sleep))

	url, err := w.AwaitCompletion(context.Background(), "tlk_1")
	require.NoError(t, err)
	assert.Equal(t, "u", url)
	assert.Equal(t, 3, seq.polls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sl.d)
}

func TestWaiter_TimesOutAfterExactlyTenPolls(t *testing.T) {
	seq := &sequence{}
	sl := &sleeps{}
	w := NewWaiter(seq, WithSleep(sl.sleep))

	_, err := w.AwaitCompletion(context.Background(), "tlk_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrJobFailed)
	assert.Equal(t, 10, seq.polls)
	assert.Equal(t, 9, sl.n)
}

func TestWaiter_FailedStopsImmediately(t *testing.T) {
	seq := &sequence{jobs: []turns.RenderJob{
		{Status: turns.RenderPending},
		{Status: turns.RenderFailed, Detail: "bad source image"},
	}}
	w := NewWaiter(seq, WithSleep((&sleeps{}).sleep))

	_, err := w.AwaitCompletion(context.Background(), "tlk_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "bad source image")
	assert.Equal(t, 2, seq.polls)
}

func TestWaiter_ReadErrorsAreNotTerminal(t *testing.T) {
	seq := &sequence{
		errs: []error{errors.New("502 from status endpoint")},
		jobs: []turns.RenderJob{{}, {Status: turns.RenderDone, ResultURL: "u"}},
	}
	w := NewWaiter(seq, WithSleep((&sleeps{}).sleep))

	url, err := w.AwaitCompletion(context.Background(), "tlk_1")
	require.NoError(t, err)
	assert.Equal(t, "u", url)
	assert.Equal(t, 2, seq.polls)
}

func TestWaiter_CustomBudget(t *testing.T) {
	seq := &sequence{}
	sl := &sleeps{}
	w := NewWaiter(seq, WithSleep(sl.sleep), WithMaxAttempts(3), WithInterval(250*time.Millisecond))

	_, err := w.AwaitCompletion(context.Background(), "tlk_1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, seq.polls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sl.d)
}

func TestWaiter_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWaiter(&sequence{}, WithSleep((&sleeps{}).sleep))

	_, err := w.AwaitCompletion(ctx, "tlk_1")
	assert.ErrorIs(t, err, context.Canceled)
}
