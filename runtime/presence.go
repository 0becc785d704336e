package runtime

import (
	"context"
	"sync"
	"time"
)

// LocalPresence is the in-process presence tracker used when no Redis is
// configured. Leases expire after ttl without a Touch.
type LocalPresence struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	leases map[string]map[string]time.Time // user -> conn -> expiry
}

func NewLocalPresence(ttl time.Duration) *LocalPresence {
	return &LocalPresence{ttl: ttl, now: time.Now, leases: make(map[string]map[string]time.Time)}
}

func (p *LocalPresence) Online(ctx context.Context, userID, connID string) error {
	return p.Touch(ctx, userID, connID)
}

func (p *LocalPresence) Touch(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.leases[userID]
	if !ok {
		conns = make(map[string]time.Time)
		p.leases[userID] = conns
	}
	conns[connID] = p.now().Add(p.ttl)
	return nil
}

func (p *LocalPresence) Offline(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leases[userID], connID)
	if len(p.leases[userID]) == 0 {
		delete(p.leases, userID)
	}
	return nil
}

func (p *LocalPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for connID, expiry := range p.leases[userID] {
		if expiry.After(now) {
			return true, nil
		}
		delete(p.leases[userID], connID)
	}
	delete(p.leases, userID)
	return false, nil
}
