package spork

import (
	"fmt"
	"golang.org/x/time/rate"
	"sync"
	"time"
)

// BucketType selects which part of an invocation a cooldown is keyed on
type BucketType int

const (
	BucketUser BucketType = iota
	BucketGuild
	BucketChannel
	BucketGlobal
)

func (b BucketType) String() string {
	switch b {
	case BucketGuild:
		return "guild"
	case BucketChannel:
		return "channel"
	case BucketGlobal:
		return "global"
	default:
		return "user"
	}
}

// Cooldown allows Rate invocations every Per, per bucket
type Cooldown struct {
	Rate   int
	Per    time.Duration
	Bucket BucketType
}

func (c Cooldown) String() string {
	return fmt.Sprintf("%d per %s per %s", c.Rate, c.Per, c.Bucket)
}

// key returns the bucket key for the given invocation. Guild buckets fall
// back to the channel in DMs.
func (c Cooldown) key(ctx *Context) string {
	switch c.Bucket {
	case BucketGuild:
		if ctx.GuildID != "" {
			return ctx.GuildID
		}
		return ctx.ChannelID
	case BucketChannel:
		return ctx.ChannelID
	case BucketGlobal:
		return ""
	default:
		if ctx.Author == nil {
			return ""
		}
		return ctx.Author.ID
	}
}

// CooldownMapping holds one token bucket per key. Buckets are created
// lazily, and live as long as the mapping.
type CooldownMapping struct {
	cooldown Cooldown
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

func NewCooldownMapping(cooldown Cooldown) *CooldownMapping {
	return &CooldownMapping{
		cooldown: cooldown,
		buckets:  map[string]*rate.Limiter{},
	}
}

func (m *CooldownMapping) Cooldown() Cooldown {
	return m.cooldown
}

func (m *CooldownMapping) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.buckets[key]
	if !ok {
		lim = rate.NewLimiter(
			rate.Limit(float64(m.cooldown.Rate)/m.cooldown.Per.Seconds()),
			m.cooldown.Rate,
		)
		m.buckets[key] = lim
	}
	return lim
}

// Update consumes a token from the key's bucket at now. When the bucket
// is empty, no token is consumed, and the time until one is available
// is returned, rounded to the millisecond.
func (m *CooldownMapping) Update(key string, now time.Time) time.Duration {
	lim := m.bucket(key)
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return m.cooldown.Per
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return max(delay.Round(time.Millisecond), time.Millisecond)
	}
	return 0
}

// Reset forgets the key's bucket, so its next invocation isn't limited
func (m *CooldownMapping) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

// Len is the number of buckets created so far
func (m *CooldownMapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
