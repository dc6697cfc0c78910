package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Pool caps the number of concurrently open sessions. It never queues: once
// the ceiling is reached Acquire fails immediately.
type Pool struct {
	opener  Opener
	ceiling int
	log     zerolog.Logger

	mu          sync.Mutex
	outstanding int
	leased      map[Session]struct{}
}

func NewPool(opener Opener, ceiling int, logger zerolog.Logger) *Pool {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Pool{
		opener:  opener,
		ceiling: ceiling,
		log:     logger,
		leased:  make(map[Session]struct{}),
	}
}

// Acquire reserves a slot and opens a session in it. The slot is reserved
// before opening, so a burst of callers can never overshoot the ceiling.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.outstanding >= p.ceiling {
		p.mu.Unlock()
		p.log.Warn().Int("ceiling", p.ceiling).Msg("session pool at capacity")
		return nil, ErrCapacityExceeded
	}
	p.outstanding++
	p.mu.Unlock()

	s, err := p.opener.Open(ctx)
	if err != nil {
		p.mu.Lock()
		p.outstanding--
		p.mu.Unlock()
		return nil, fmt.Errorf("open session: %w", err)
	}

	p.mu.Lock()
	p.leased[s] = struct{}{}
	n := p.outstanding
	p.mu.Unlock()
	p.log.Debug().Int("outstanding", n).Msg("session acquired")
	return s, nil
}

// Release closes s and frees its slot. Releasing a handle twice, or one the
// pool never issued, does nothing.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.leased[s]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leased, s)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.outstanding--
		n := p.outstanding
		p.mu.Unlock()
		p.log.Debug().Int("outstanding", n).Msg("session released")
	}()
	if err := s.Close(); err != nil {
		p.log.Warn().Err(err).Msg("close session")
	}
}

// With runs fn inside a session and releases it on every exit path.
func (p *Pool) With(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	return fn(ctx, s)
}

// Outstanding reports how many sessions are currently leased.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Capacity is the configured ceiling.
func (p *Pool) Capacity() int {
	return p.ceiling
}
