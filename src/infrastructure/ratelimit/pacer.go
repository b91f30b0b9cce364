// Package ratelimit paces outbound embedding calls so a provider's request
// quota is never exceeded.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"ragvault/src/log"
)

// Config configures a Pacer.
type Config struct {
	// Interval is the minimum spacing between two calls. Zero disables spacing.
	Interval time.Duration
	// QuotaBackoffInitial is the first cool-down after a quota signal. Zero
	// disables the cool-down.
	QuotaBackoffInitial time.Duration
	// QuotaBackoffMax caps the cool-down growth across consecutive signals.
	QuotaBackoffMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:            3 * time.Second,
		QuotaBackoffInitial: 10 * time.Second,
		QuotaBackoffMax:     2 * time.Minute,
	}
}

// Pacer gates calls with a fixed interval and an exponential cool-down after
// quota signals. The first call never waits.
type Pacer struct {
	clock  Clock
	logger logr.Logger

	mu        sync.Mutex
	limiter   *rate.Limiter
	cooldown  *backoff.ExponentialBackOff
	notBefore time.Time
}

func NewPacer(cfg Config, clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock()
	}
	p := &Pacer{
		clock:  clock,
		logger: log.WithName("pacer"),
	}

	if cfg.Interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}

	if cfg.QuotaBackoffInitial > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.QuotaBackoffInitial
		b.MaxInterval = cfg.QuotaBackoffMax
		if b.MaxInterval < b.InitialInterval {
			b.MaxInterval = b.InitialInterval
		}
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Clock = clock
		b.Reset()
		p.cooldown = b
	}
	return p
}

// Wait blocks until the next call may be issued.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.clock.Now()
	at := now
	if p.notBefore.After(at) {
		at = p.notBefore
	}

	var (
		delay       = at.Sub(now)
		reservation *rate.Reservation
	)
	if p.limiter != nil {
		reservation = p.limiter.ReserveN(at, 1)
		if d := reservation.DelayFrom(now); d > delay {
			delay = d
		}
	}
	p.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	p.logger.V(1).Info("waiting before next call", "delay", delay)
	if err := p.clock.Sleep(ctx, delay); err != nil {
		if reservation != nil {
			reservation.CancelAt(p.clock.Now())
		}
		return err
	}
	return nil
}

// Throttled starts or extends the quota cool-down.
func (p *Pacer) Throttled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cooldown == nil {
		return
	}

	d := p.cooldown.NextBackOff()
	if d == backoff.Stop {
		d = p.cooldown.MaxInterval
	}
	p.notBefore = p.clock.Now().Add(d)
	p.logger.Info("quota signal received, cooling down", "cooldown", d)
}

// Succeeded clears the cool-down after an accepted call.
func (p *Pacer) Succeeded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cooldown != nil {
		p.cooldown.Reset()
	}
	p.notBefore = time.Time{}
}
