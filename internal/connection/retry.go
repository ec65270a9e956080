package connection

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// retryConfig and the delay functions below generalize the teacher's
// ad-hoc retry block inside P2PClientApi.register_with_retry (p2pclient.go)
// into a reusable helper shared by the delegate client's registration and
// the multiplexer's just_log exception policy.
type retryConfig struct {
	attempts  uint
	delay     time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration

	maxBackOffN uint
}

type delayFunc func(n uint, config *retryConfig) time.Duration

func combineDelay(delays ...delayFunc) delayFunc {
	return func(n uint, config *retryConfig) time.Duration {
		var total time.Duration
		for _, d := range delays {
			total += d(n, config)
		}
		return total
	}
}

// backOffDelay doubles the base delay per attempt, capped to avoid
// overflowing time.Duration.
func backOffDelay(n uint, config *retryConfig) time.Duration {
	const max uint = 62
	if config.maxBackOffN == 0 {
		if config.delay <= 0 {
			config.delay = time.Millisecond
		}
		config.maxBackOffN = max - uint(math.Floor(math.Log2(float64(config.delay))))
	}
	if n > config.maxBackOffN {
		n = config.maxBackOffN
	}
	return config.delay << n
}

// randomDelay adds up to maxJitter of jitter so concurrent retriers don't
// collide in lockstep.
func randomDelay(_ uint, config *retryConfig) time.Duration {
	if config.maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(config.maxJitter)))
}

var defaultDelayType = combineDelay(backOffDelay, randomDelay)

// retry calls fn up to attempts times, sleeping an exponentially-backed-off,
// jittered delay between attempts, and returns the last error if every
// attempt failed. It stops early if ctx is cancelled.
func retry(ctx context.Context, attempts uint, baseDelay, maxDelay time.Duration, fn func() error) error {
	config := &retryConfig{attempts: attempts, delay: baseDelay, maxDelay: maxDelay, maxJitter: 100 * time.Millisecond}
	var lastErr error
	for n := uint(0); n < attempts; n++ {
		if err := fn(); err != nil {
			lastErr = err
			if n == attempts-1 {
				break
			}
			delay := defaultDelayType(n, config)
			if config.maxDelay > 0 && delay > config.maxDelay {
				delay = config.maxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return lastErr
}
