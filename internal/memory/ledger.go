package memory

import (
	"context"
	"sync"
)

// Ledger tracks per-user daily write counters and the set of users whose
// memories the consolidator should sweep. Backed by Redis in multi-node
// deployments, by LocalLedger otherwise.
type Ledger interface {
	IncrDailyCount(ctx context.Context, userID, day string) (int64, error)
	AddActiveUser(ctx context.Context, userID string) error
	ActiveUsers(ctx context.Context) ([]string, error)
}

type LocalLedger struct {
	mu     sync.Mutex
	counts map[string]int64
	users  map[string]bool
}

func NewLocalLedger() *LocalLedger {
	return &LocalLedger{
		counts: make(map[string]int64),
		users:  make(map[string]bool),
	}
}

func (l *LocalLedger) IncrDailyCount(_ context.Context, userID, day string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := userID + ":" + day
	l.counts[key]++
	return l.counts[key], nil
}

func (l *LocalLedger) AddActiveUser(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[userID] = true
	return nil
}

func (l *LocalLedger) ActiveUsers(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	users := make([]string, 0, len(l.users))
	for u := range l.users {
		users = append(users, u)
	}
	return users, nil
}
