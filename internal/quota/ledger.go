// Package quota tracks per-user download counters and decides whether a user
// may download again.
package quota

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// User is the ledger record kept for every user that has talked to the bot.
type User struct {
	ID           int64
	RegisteredAt time.Time
	Downloads    int
}

// Ledger holds users and their download counters for the process lifetime.
// Counters only ever grow.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	users map[int64]*User
}

// NewLedger creates an empty ledger.
func NewLedger(log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		logger: log.With(slog.String("component", "quota_ledger")),
		now:    time.Now,
		users:  make(map[int64]*User),
	}
}

// RegisterIfAbsent records userID the first time it is seen and reports
// whether a new record was created.
func (l *Ledger) RegisterIfAbsent(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[userID]; ok {
		return false
	}
	l.users[userID] = &User{ID: userID, RegisteredAt: l.now().UTC()}
	l.logger.Info("user registered", slog.Int64("user_id", userID))
	return true
}

// RecordDownload increments the user's counter and returns the new value.
// Unknown users are registered on the fly so no download is lost.
func (l *Ledger) RecordDownload(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		u = &User{ID: userID, RegisteredAt: l.now().UTC()}
		l.users[userID] = u
	}
	u.Downloads++
	return u.Downloads
}

// DownloadsUsed returns the user's counter, zero for unknown users.
func (l *Ledger) DownloadsUsed(userID int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if u, ok := l.users[userID]; ok {
		return u.Downloads
	}
	return 0
}

// Get returns a copy of the user record.
func (l *Ledger) Get(userID int64) (User, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.users[userID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// TotalUsers returns the number of registered users.
func (l *Ledger) TotalUsers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}

// TotalDownloads sums every user's counter.
func (l *Ledger) TotalDownloads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, u := range l.users {
		total += u.Downloads
	}
	return total
}

// UserIDs returns every registered user id in ascending order.
func (l *Ledger) UserIDs() []int64 {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
