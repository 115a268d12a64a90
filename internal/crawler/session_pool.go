package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/masahif/shelfscan/internal/config"
)

// ErrSessionNotInUse is returned when a session is released twice
var ErrSessionNotInUse = errors.New("session is not in use")

// Session is a pooled identity. A session serves at most one fetch at a time.
type Session struct {
	id       int
	identity Identity
	failures int // consecutive unhealthy releases
	inUse    bool
}

// ID returns the pool-assigned session id. It changes when the identity rotates.
func (s *Session) ID() int {
	return s.id
}

// Identity returns the proxy, user agent and cookie jar bound to the session
func (s *Session) Identity() Identity {
	return s.identity
}

// SessionPool lends sessions to workers and rotates identities that keep
// failing. The number of sessions never changes.
type SessionPool struct {
	idle chan *Session
	size int

	mu          sync.Mutex // guards everything below
	proxies     []*url.URL
	userAgents  []string
	retireAfter int
	rnd         *rand.Rand
	nextID      int
	inUse       int
	rotations   int
}

// NewSessionPool creates cfg.PoolSize sessions with identities drawn from the
// configured proxies and user agents. rnd drives identity choice; nil uses a
// fixed seed.
func NewSessionPool(cfg config.SessionConfig, rnd *rand.Rand) (*SessionPool, error) {
	if cfg.PoolSize <= 0 {
		return nil, config.ErrInvalidPoolSize
	}
	if cfg.RetireAfter <= 0 {
		return nil, config.ErrInvalidRetireAfter
	}

	proxies := make([]*url.URL, 0, len(cfg.Proxies))
	for _, raw := range cfg.Proxies {
		u, err := config.ParseProxy(raw)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, u)
	}

	userAgents := cfg.UserAgents
	if len(userAgents) == 0 {
		userAgents = config.DefaultConfig().Sessions.UserAgents
	}

	if rnd == nil {
		rnd = rand.New(rand.NewPCG(1, 1))
	}

	p := &SessionPool{
		idle:        make(chan *Session, cfg.PoolSize),
		size:        cfg.PoolSize,
		proxies:     proxies,
		userAgents:  userAgents,
		retireAfter: cfg.RetireAfter,
		rnd:         rnd,
	}

	for i := 0; i < cfg.PoolSize; i++ {
		identity, err := p.newIdentity(nil)
		if err != nil {
			return nil, err
		}
		p.idle <- &Session{id: identity.SessionID, identity: identity}
	}

	return p, nil
}

// Acquire returns an idle session, blocking until one is free or ctx is done
func (p *SessionPool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s := <-p.idle:
		p.mu.Lock()
		s.inUse = true
		p.inUse++
		p.mu.Unlock()
		return s, nil
	}
}

// Release returns a session to the idle set. An unhealthy release counts a
// failure; at the retire threshold the identity is replaced before the
// session becomes idle again.
func (p *SessionPool) Release(s *Session, healthy bool) error {
	p.mu.Lock()
	if !s.inUse {
		p.mu.Unlock()
		return fmt.Errorf("%w: session %d", ErrSessionNotInUse, s.id)
	}

	if healthy {
		s.failures = 0
	} else {
		s.failures++
		if s.failures >= p.retireAfter {
			p.rotate(s)
		}
	}

	s.inUse = false
	p.inUse--
	p.mu.Unlock()

	p.idle <- s
	return nil
}

// rotate swaps the session identity in place. Caller holds p.mu.
func (p *SessionPool) rotate(s *Session) {
	old := s.identity
	identity, err := p.newIdentity(&old)
	if err != nil {
		// Cookie jar creation only fails on invalid options; keep the old
		// identity but reset the counter so rotation is retried later.
		slog.Error("Failed to rotate session identity", "session_id", s.id, "error", err)
		s.failures = 0
		return
	}

	slog.Info("Rotated session identity",
		"retired_session", old.SessionID,
		"session_id", identity.SessionID,
		"proxy", identity.ProxyKey(),
		"user_agent", identity.UserAgent,
		"failures", s.failures)

	s.id = identity.SessionID
	s.identity = identity
	s.failures = 0
	p.rotations++
}

// newIdentity draws a proxy and user agent and creates an empty cookie jar.
// When previous is given and more than one combination exists, the new
// identity differs from it. Caller holds p.mu (or owns p exclusively).
func (p *SessionPool) newIdentity(previous *Identity) (Identity, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	proxyIdx := -1
	if len(p.proxies) > 0 {
		proxyIdx = p.rnd.IntN(len(p.proxies))
	}
	uaIdx := p.rnd.IntN(len(p.userAgents))

	if previous != nil && p.sameChoice(previous, proxyIdx, uaIdx) {
		// Step to a neighbouring combination instead of redrawing.
		if len(p.proxies) > 1 {
			proxyIdx = (proxyIdx + 1) % len(p.proxies)
		} else if len(p.userAgents) > 1 {
			uaIdx = (uaIdx + 1) % len(p.userAgents)
		}
	}

	p.nextID++
	identity := Identity{
		SessionID: p.nextID,
		UserAgent: p.userAgents[uaIdx],
		Jar:       jar,
	}
	if proxyIdx >= 0 {
		identity.Proxy = p.proxies[proxyIdx]
	}
	return identity, nil
}

func (p *SessionPool) sameChoice(previous *Identity, proxyIdx, uaIdx int) bool {
	if p.userAgents[uaIdx] != previous.UserAgent {
		return false
	}
	if proxyIdx < 0 {
		return previous.Proxy == nil
	}
	return previous.Proxy != nil && previous.Proxy.String() == p.proxies[proxyIdx].String()
}

// Size returns the fixed number of sessions
func (p *SessionPool) Size() int {
	return p.size
}

// InUse returns the number of borrowed sessions
func (p *SessionPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Rotations returns how many identities have been retired
func (p *SessionPool) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}
