// Package admission enforces per-principal request rate limits and the
// concurrent job cap before work reaches the service layer.
package admission

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/repository"
)

// Endpoint classes with distinct token buckets.
const (
	ClassSubmit   = "submit"
	ClassProgress = "progress"
	ClassStatus   = "status"
	ClassResults  = "results"
	ClassAdmin    = "admin"
)

// staleAfter is how long an idle principal bucket survives before the
// janitor drops it.
const staleAfter = 10 * time.Minute

// Decision is the outcome of a rate check, carrying what the HTTP layer
// needs for the X-RateLimit response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	RetryIn   time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Controller hands out token-bucket decisions keyed by principal and
// endpoint class.
type Controller struct {
	cfg  config.LimitsConfig
	jobs repository.JobRepository

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewController creates an admission controller. jobs backs the
// concurrent job cap and may be nil when only rate checks are needed.
func NewController(cfg config.LimitsConfig, jobs repository.JobRepository) *Controller {
	return &Controller{
		cfg:     cfg,
		jobs:    jobs,
		buckets: make(map[string]*bucket),
	}
}

// Check consumes one token from the principal's bucket for the class.
// Classes without a configured limit always pass.
func (c *Controller) Check(principalID, class string) Decision {
	limit, ok := c.cfg.RateLimits[class]
	if !ok || limit.PerSecond <= 0 {
		return Decision{Allowed: true, Limit: -1, Remaining: -1}
	}

	c.mu.Lock()
	key := class + ":" + principalID
	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst)}
		c.buckets[key] = b
	}
	b.lastSeen = time.Now()
	c.mu.Unlock()

	if b.limiter.Allow() {
		return Decision{
			Allowed:   true,
			Limit:     limit.Burst,
			Remaining: int(math.Floor(b.limiter.Tokens())),
		}
	}

	res := b.limiter.Reserve()
	retryIn := res.Delay()
	res.Cancel()
	return Decision{
		Allowed: false,
		Limit:   limit.Burst,
		RetryIn: retryIn,
	}
}

// CheckConcurrency rejects a submission when the principal already has
// the configured number of queued or running jobs.
func (c *Controller) CheckConcurrency(ctx context.Context, principalID string) error {
	maxActive := c.cfg.ConcurrentJobsPerPrincipal
	if maxActive <= 0 || c.jobs == nil {
		return nil
	}
	active, err := c.jobs.CountActiveByPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if active >= int64(maxActive) {
		return fault.New(fault.KindValidation,
			"concurrent job limit reached (%d active, %d allowed)", active, maxActive)
	}
	return nil
}

// Janitor drops idle buckets until ctx is canceled.
func (c *Controller) Janitor(ctx context.Context) {
	ticker := time.NewTicker(staleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.dropStale(time.Now().Add(-staleAfter))
		}
	}
}

func (c *Controller) dropStale(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(c.buckets, key)
		}
	}
}

// RetryAfterSeconds renders the decision's retry delay for the
// Retry-After header, rounded up to at least one second.
func (d Decision) RetryAfterSeconds() string {
	secs := int(math.Ceil(d.RetryIn.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
