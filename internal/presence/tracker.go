package presence

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/peace-chat/internal/domain"
)

const DefaultLivenessWindow = 30 * time.Second

type record struct {
	username    string
	lastActive  int64
	onlineSince int64
}

// Tracker maps usernames to liveness. Online status is derived from
// lastActive at read time and never stored.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record
	window  time.Duration
	now     func() time.Time
}

type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(window time.Duration, opts ...Option) *Tracker {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	t := &Tracker{
		records: make(map[string]*record),
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func key(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Touch records a liveness signal (join, heartbeat, poll, ping) for username.
// onlineSince is kept while the user stays live and restarts after a stale
// gap. cameOnline reports an offline to online flip.
func (t *Tracker) Touch(username string) (p domain.Presence, cameOnline bool) {
	k := key(username)
	if k == "" {
		return domain.Presence{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UnixMilli()
	r, ok := t.records[k]
	if !ok {
		r = &record{username: strings.TrimSpace(username)}
		t.records[k] = r
	}

	wasOnline := ok && t.online(r, now)
	if !wasOnline {
		r.onlineSince = now
	}
	r.lastActive = now

	return t.view(r, now), !wasOnline
}

// Get returns the current presence of username; unknown users are offline.
func (t *Tracker) Get(username string) domain.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.records[key(username)]; ok {
		return t.view(r, t.now().UnixMilli())
	}
	return domain.Presence{Username: strings.TrimSpace(username), Status: domain.StatusOffline}
}

// Snapshot returns every tracked user plus any of known that has no record
// (reported offline), sorted by username.
func (t *Tracker) Snapshot(known ...string) []domain.Presence {
	t.mu.Lock()
	now := t.now().UnixMilli()
	seen := make(map[string]struct{}, len(t.records)+len(known))
	out := make([]domain.Presence, 0, len(t.records)+len(known))
	for k, r := range t.records {
		seen[k] = struct{}{}
		out = append(out, t.view(r, now))
	}
	t.mu.Unlock()

	for _, name := range known {
		k := key(name)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, domain.Presence{Username: strings.TrimSpace(name), Status: domain.StatusOffline})
	}

	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Username) < key(out[j].Username)
	})
	return out
}

// Forget drops the record for username.
func (t *Tracker) Forget(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key(username))
}

func (t *Tracker) Window() time.Duration {
	return t.window
}

func (t *Tracker) online(r *record, now int64) bool {
	return now-r.lastActive < t.window.Milliseconds()
}

// view must be called with t.mu held.
func (t *Tracker) view(r *record, now int64) domain.Presence {
	p := domain.Presence{
		Username: r.username,
		LastSeen: r.lastActive,
	}
	if t.online(r, now) {
		p.Status = domain.StatusOnline
		p.OnlineSince = r.onlineSince
	} else {
		p.Status = domain.StatusOffline
	}
	return p
}
