package queue

import (
	"errors"
	"math/rand"
	"time"
)

const defaultMaxBackoff = 10 * time.Minute

// backoffDelay returns the wait before the next attempt after `attempt`
// failed attempts. A RetryAfter hint on err replaces the computed delay.
func backoffDelay(b Backoff, attempt int, err error, maxD time.Duration, rng *rand.Rand) time.Duration {
	if maxD <= 0 {
		maxD = defaultMaxBackoff
	}
	var d time.Duration
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = b.Delay
		if d <= 0 {
			d = time.Second
		}
		if b.Type != BackoffFixed {
			for i := 1; i < attempt; i++ {
				d *= 2
				if d > maxD {
					d = maxD
					break
				}
			}
		}
	}
	if j := b.Jitter; j > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
