package channel

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// memberCache remembers chat member statuses for a TTL and collapses
// concurrent lookups of the same member into one API call.
type memberCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]memberEntry
}

type memberEntry struct {
	status  string
	expires time.Time
}

func newMemberCache(ttl time.Duration) *memberCache {
	return &memberCache{ttl: ttl, now: time.Now, entries: make(map[string]memberEntry)}
}

func (c *memberCache) status(chatID, userID int64, fetch func() (string, error)) (string, error) {
	key := strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.status, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		status, err := fetch()
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = memberEntry{status: status, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return status, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
