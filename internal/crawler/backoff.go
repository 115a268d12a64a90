package crawler

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/masahif/shelfscan/internal/config"
)

// Backoff computes retry delays and the abandon decision.
// Apart from the injected random source it has no state: the delay depends
// only on the attempt count and the configuration.
type Backoff struct {
	base       time.Duration
	max        time.Duration
	jitter     time.Duration
	maxRetries int

	mu  sync.Mutex // guards rnd, *rand.Rand is not safe for concurrent use
	rnd *rand.Rand
}

// NewBackoff creates a backoff controller. A nil rnd disables jitter.
func NewBackoff(cfg config.BackoffConfig, rnd *rand.Rand) *Backoff {
	return &Backoff{
		base:       cfg.Base,
		max:        cfg.Max,
		jitter:     cfg.Jitter,
		maxRetries: cfg.MaxRetries,
		rnd:        rnd,
	}
}

// NextDelay returns min(max, base*2^attempt + U[0, jitter)).
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := b.base
	for i := 0; i < attempt; i++ {
		if delay > b.max/2 {
			return b.max
		}
		delay *= 2
	}

	delay += b.randomJitter()
	if delay > b.max {
		return b.max
	}
	return delay
}

// ShouldAbandon reports whether a request at attempt must be dropped
func (b *Backoff) ShouldAbandon(attempt int) bool {
	return attempt > b.maxRetries
}

// MaxRetries returns the configured retry ceiling
func (b *Backoff) MaxRetries() int {
	return b.maxRetries
}

func (b *Backoff) randomJitter() time.Duration {
	if b.jitter <= 0 || b.rnd == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rnd.Int64N(int64(b.jitter)))
}
