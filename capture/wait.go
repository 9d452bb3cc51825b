package capture

import (
	"context"
	"time"
)

// DefaultPollInterval is the pump slice used between predicate checks.
const DefaultPollInterval = 25 * time.Millisecond

// Until pumps p until cond holds or timeout elapses. It returns true when
// the condition was met and false on timeout; a timeout is not an error.
// A non-positive timeout checks cond once.
func Until(ctx context.Context, p Pumper, timeout, step time.Duration, cond func(context.Context) (bool, error)) (bool, error) {
	if step <= 0 {
		step = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := p.Pump(ctx, min(step, remaining)); err != nil {
			return false, err
		}
	}
}

// Hold pumps p for d regardless of renderer state.
func Hold(ctx context.Context, p Pumper, d time.Duration, step time.Duration) error {
	_, err := Until(ctx, p, d, step, func(context.Context) (bool, error) { return false, nil })
	return err
}
