package toolproto

import (
	"context"
	"time"
)

// Defaults for the client handshake and the push channel.
const (
	DefaultInitAttempts   = 3
	DefaultInitBackoff    = time.Second
	defaultReconnectDelay = time.Second
)

// Schedule yields the delay to wait after the given failed attempt, counted
// from 1.
type Schedule interface {
	Delay(attempt int) time.Duration
}

// LinearBackoff waits attempt x Base.
type LinearBackoff struct {
	Base time.Duration
}

// Delay implements Schedule.
func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * b.Base
}

// ExponentialBackoff waits Base x 2^(attempt-1).
type ExponentialBackoff struct {
	Base time.Duration
}

// Delay implements Schedule.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return b.Base << (attempt - 1)
}

// SleepFunc blocks for d or until ctx is done. Tests substitute a recorder.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
