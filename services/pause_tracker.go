package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

const (
	kvPauseCount = "arena:pause-count:"
	kvPausedTill = "arena:paused:"
)

// PauseTracker records top-ranked players leaving a started tournament and
// keeps them out for a delay that doubles with every pause.
type PauseTracker struct {
	kv        ExpiringKV
	baseDelay time.Duration
	maxDelay  time.Duration
	memory    time.Duration
	logger    *slog.Logger
}

var _ PausePolicy = (*PauseTracker)(nil)

func NewPauseTracker(kv ExpiringKV, baseDelay, maxDelay time.Duration, logger *slog.Logger) *PauseTracker {
	return &PauseTracker{kv: kv, baseDelay: baseDelay, maxDelay: maxDelay, memory: time.Hour, logger: logger}
}

// Delay returns the re-entry delay after the n-th pause.
func (p *PauseTracker) Delay(n int) time.Duration {
	d := p.baseDelay
	for i := 1; i < n && d < p.maxDelay; i++ {
		d *= 2
	}
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

func (p *PauseTracker) RecordPause(ctx context.Context, userID int) {
	key := kvPauseCount + strconv.Itoa(userID)
	n := 1
	if raw, ok, err := p.kv.Get(ctx, key); err == nil && ok {
		if prev, convErr := strconv.Atoi(raw); convErr == nil {
			n = prev + 1
		}
	}
	if err := p.kv.Set(ctx, key, strconv.Itoa(n), p.memory); err != nil {
		p.logger.Error("failed to record pause", slog.Int("user_id", userID), slog.Any("error", err))
		return
	}
	if err := p.kv.Set(ctx, kvPausedTill+strconv.Itoa(userID), "1", p.Delay(n)); err != nil {
		p.logger.Error("failed to record pause delay", slog.Int("user_id", userID), slog.Any("error", err))
	}
}

// IsPaused fails open: an unreachable store never blocks a join.
func (p *PauseTracker) IsPaused(ctx context.Context, userID int) bool {
	_, ok, err := p.kv.Get(ctx, kvPausedTill+strconv.Itoa(userID))
	if err != nil {
		p.logger.Warn("failed to read pause state", slog.Int("user_id", userID), slog.Any("error", err))
		return false
	}
	return ok
}
