package judge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the pause between two polls of the same submission.
const DefaultPollInterval = time.Second

// PollFunc polls a submission once, returning nil while it is pending.
type PollFunc func(ctx context.Context, handle string) (*Submission, error)

// Poller turns a single-shot PollFunc into a blocking wait.
type Poller struct {
	// Interval between polls; DefaultPollInterval when zero.
	Interval time.Duration
	// Timeout after which Wait gives up; zero waits until ctx is done.
	Timeout time.Duration
	// OnWait is called after every pending poll.
	OnWait func(attempt int, elapsed time.Duration)
	Logger *zap.Logger
}

// Wait polls until a terminal Submission is returned. It returns nil, nil
// when the timeout expires first; the submission may still resolve later
// and can be polled again by handle. A failed poll is retried once before
// the error is returned; a failure not yet retried at the deadline is
// returned as is.
func (p Poller) Wait(ctx context.Context, poll PollFunc, handle string) (*Submission, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	start := time.Now()
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = start.Add(p.Timeout)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		sub, err := poll(ctx, handle)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if lastErr != nil {
				return nil, err
			}
			lastErr = err
			log.Warn("poll failed, retrying", zap.String("handle", handle), zap.Error(err))
		case sub != nil:
			return sub, nil
		default:
			lastErr = nil
			if p.OnWait != nil {
				p.OnWait(attempt, time.Since(start))
			}
		}

		wait := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				if lastErr != nil {
					return nil, lastErr
				}
				log.Debug("poll timed out", zap.String("handle", handle), zap.Int("attempts", attempt))
				return nil, nil
			}
			wait = min(wait, remaining)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCanceled reports whether err comes from context cancellation or expiry.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
