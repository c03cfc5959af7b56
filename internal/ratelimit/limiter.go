package ratelimit

import "time"

// Clock abstracts time so limiter behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MessageLimiter is a token bucket guarding the inbound message rate of a
// single signaling connection. Capacity equals the fill rate, so a connection
// may burst at most one second's worth of messages.
//
// It is not safe for concurrent use; each connection's read loop owns its
// limiter.
type MessageLimiter struct {
	clock    Clock
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

// NewMessageLimiter returns a limiter allowing messagesPerSecond sustained
// messages. A rate <= 0 disables limiting.
func NewMessageLimiter(clock Clock, messagesPerSecond int) *MessageLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	rate := float64(messagesPerSecond)
	return &MessageLimiter{
		clock:    clock,
		rate:     rate,
		capacity: rate,
		tokens:   rate,
		last:     clock.Now(),
	}
}

// Allow consumes one token if available.
func (l *MessageLimiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}

	now := l.clock.Now()
	if now.After(l.last) {
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
