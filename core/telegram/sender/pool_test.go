package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestPoolDoReturnsResult(t *testing.T) {
	p := NewPool(Options{Workers: 2})
	defer p.Close()

	require.NoError(t, p.Do(context.Background(), Job{Action: "ok", Run: func(context.Context) error { return nil }}))

	boom := errors.New("forbidden")
	err := p.Do(context.Background(), Job{Action: "fail", Run: func(context.Context) error { return boom }})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), p.ErrorCount())
}

func TestPoolRetriesTransientErrors(t *testing.T) {
	p := NewPool(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	defer p.Close()

	var calls atomic.Int32
	err := p.Do(context.Background(), Job{Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoolDoesNotRetryPermanentErrors(t *testing.T) {
	p := NewPool(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	defer p.Close()

	var calls atomic.Int32
	err := p.Do(context.Background(), Job{Run: func(context.Context) error {
		calls.Add(1)
		return errors.New("bot was blocked by the user")
	}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoolEnforcesDeadline(t *testing.T) {
	p := NewPool(Options{Workers: 1, MaxDuration: 20 * time.Millisecond})
	defer p.Close()

	err := p.Do(context.Background(), Job{Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", ErrorKind(err))
}

func TestPoolBoundsParallelism(t *testing.T) {
	const workers = 3
	p := NewPool(Options{Workers: workers})
	defer p.Close()

	var running, peak atomic.Int32
	var results []<-chan error
	for i := 0; i < 12; i++ {
		done, err := p.Submit(context.Background(), Job{Run: func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}})
		require.NoError(t, err)
		results = append(results, done)
	}
	for _, done := range results {
		require.NoError(t, <-done)
	}
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p := NewPool(Options{})
	p.Close()
	p.Close()

	_, err := p.Submit(context.Background(), Job{Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{&net.DNSError{Err: "no such host", Name: "api.telegram.org"}, "dns"},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, "dial"},
		{tele.ErrBlockedByUser, "http_4xx"},
		{fmt.Errorf("telegram: internal error (502)"), "http_5xx"},
		{errors.New("weird"), "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorKind(tc.err), "%v", tc.err)
	}
}

func TestSanitizeErrorRedactsToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAbb-cc_DD/sendMessage": EOF`)
	assert.NotContains(t, SanitizeError(err), "AAbb")
	assert.Contains(t, SanitizeError(err), "bot<redacted>")
}
