package channel

import (
	"context"
	"sync"
	"time"
)

// Bot API flood limits: about 30 sends per second overall and 20 per
// minute into a single group.
var (
	telegramGlobalLimit = Limit{Burst: 30, PerMinute: 1800}
	telegramChatLimit   = Limit{Burst: 5, PerMinute: 20}
)

// maxIdleBuckets bounds the per-chat map before full buckets are pruned.
const maxIdleBuckets = 1024

// Limit configures a token bucket.
type Limit struct {
	Burst     int
	PerMinute float64
}

type bucket struct {
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
}

func newBucket(l Limit, now time.Time) *bucket {
	if l.Burst <= 0 {
		l.Burst = 1
	}
	if l.PerMinute <= 0 {
		l.PerMinute = 60
	}
	return &bucket{tokens: float64(l.Burst), max: float64(l.Burst), rate: l.PerMinute / 60, last: now}
}

func (b *bucket) refill(now time.Time) {
	b.tokens = min(b.max, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
}

// due is how long until the bucket holds a whole token.
func (b *bucket) due() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// SendLimiter throttles outbound requests against a global bucket and a
// bucket per chat. A send takes one token from both.
type SendLimiter struct {
	mu        sync.Mutex
	global    *bucket
	chats     map[int64]*bucket
	chatLimit Limit
	now       func() time.Time
}

func NewSendLimiter(global, perChat Limit) *SendLimiter {
	now := time.Now()
	return &SendLimiter{
		global:    newBucket(global, now),
		chats:     make(map[int64]*bucket),
		chatLimit: perChat,
		now:       time.Now,
	}
}

// Wait blocks until chatID may be sent to, or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context, chatID int64) error {
	for {
		delay := l.reserve(chatID)
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token from both buckets, or returns the wait until both
// have one. Nothing is taken unless both can give.
func (l *SendLimiter) reserve(chatID int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	chat, ok := l.chats[chatID]
	if !ok {
		l.prune(now)
		chat = newBucket(l.chatLimit, now)
		l.chats[chatID] = chat
	}
	l.global.refill(now)
	chat.refill(now)

	if wait := max(l.global.due(), chat.due()); wait > 0 {
		return wait
	}
	l.global.tokens--
	chat.tokens--
	return 0
}

// prune drops buckets that have refilled completely; a new bucket for the
// same chat starts full, so nothing is lost.
func (l *SendLimiter) prune(now time.Time) {
	if len(l.chats) < maxIdleBuckets {
		return
	}
	for id, b := range l.chats {
		b.refill(now)
		if b.tokens >= b.max {
			delete(l.chats, id)
		}
	}
}
