package governor

import (
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/metrics"
)

// ErrCircuitOpen is returned by Allow while a service is cooling down.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState is the breaker position for one downstream service.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

func (s CircuitState) gauge() float64 {
	switch s {
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return 0
	}
}

const (
	defaultCapacity         = 500
	defaultRefillPerSecond  = 8.3
	defaultDelayFloor       = 100 * time.Millisecond
	defaultDelayMax         = 10 * time.Second
	defaultWarnRatio        = 0.8
	defaultQuietPeriod      = 30 * time.Second
	defaultFailureThreshold = 5
	defaultCooldownBase     = 30 * time.Second
	defaultCooldownMax      = 10 * time.Minute

	delayGrowth = 2.0
	delayDecay  = 0.5
)

// Options configure a Governor. Zero values fall back to defaults.
type Options struct {
	Capacity         float64
	RefillPerSecond  float64
	DelayFloor       time.Duration
	DelayMax         time.Duration
	WarnRatio        float64
	QuietPeriod      time.Duration
	FailureThreshold int
	CooldownBase     time.Duration
	CooldownMax      time.Duration
	Now              func() time.Time
	Metrics          *metrics.GovernorMetrics
}

// OptionsFromConfig maps the env-driven governor settings onto Options.
func OptionsFromConfig(cfg config.GovernorConfig) Options {
	return Options{
		Capacity:         cfg.BucketCapacity,
		RefillPerSecond:  cfg.RefillPerSecond,
		DelayFloor:       cfg.DelayFloor,
		DelayMax:         cfg.DelayMax,
		WarnRatio:        cfg.WarnRatio,
		QuietPeriod:      cfg.QuietPeriod,
		FailureThreshold: cfg.FailureThreshold,
		CooldownBase:     cfg.CooldownBase,
		CooldownMax:      cfg.CooldownMax,
	}
}

// Snapshot is a read-only copy of a service's rate state.
type Snapshot struct {
	Service   string        `json:"service"`
	Tokens    float64       `json:"tokens"`
	Delay     time.Duration `json:"delay"`
	Circuit   CircuitState  `json:"circuit"`
	Failures  int           `json:"failures"`
	OpenUntil time.Time     `json:"open_until"`
	Cooldown  time.Duration `json:"cooldown"`
}

type rateState struct {
	bucket      *rate.Limiter
	delay       time.Duration
	lastWarning time.Time

	circuit        CircuitState
	failures       int
	openUntil      time.Time
	cooldown       time.Duration
	probeInFlight  bool
	probeStartedAt time.Time
}

// Governor gates outbound calls per downstream service with a token bucket
// (one rate.Limiter per service), an adaptive inter-call delay and a circuit
// breaker. All state sits behind one mutex so the sync drainer and the retry
// runner can share an instance.
type Governor struct {
	mu       sync.Mutex
	opts     Options
	now      func() time.Time
	metrics  *metrics.GovernorMetrics
	services map[string]*rateState
}

// New builds a Governor.
func New(opts Options) *Governor {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.RefillPerSecond <= 0 {
		opts.RefillPerSecond = defaultRefillPerSecond
	}
	if opts.DelayFloor <= 0 {
		opts.DelayFloor = defaultDelayFloor
	}
	if opts.DelayMax <= 0 {
		opts.DelayMax = defaultDelayMax
	}
	if opts.DelayMax < opts.DelayFloor {
		opts.DelayMax = opts.DelayFloor
	}
	if opts.WarnRatio <= 0 || opts.WarnRatio > 1 {
		opts.WarnRatio = defaultWarnRatio
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = defaultQuietPeriod
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.CooldownBase <= 0 {
		opts.CooldownBase = defaultCooldownBase
	}
	if opts.CooldownMax < opts.CooldownBase {
		opts.CooldownMax = defaultCooldownMax
		if opts.CooldownMax < opts.CooldownBase {
			opts.CooldownMax = opts.CooldownBase
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Governor{
		opts:     opts,
		now:      now,
		metrics:  opts.Metrics,
		services: map[string]*rateState{},
	}
}

// state must be called with g.mu held.
func (g *Governor) state(service string) *rateState {
	st, ok := g.services[service]
	if ok {
		return st
	}
	burst := int(g.opts.Capacity)
	if burst < 1 {
		burst = 1
	}
	st = &rateState{
		bucket:   rate.NewLimiter(rate.Limit(g.opts.RefillPerSecond), burst),
		delay:    g.opts.DelayFloor,
		circuit:  CircuitClosed,
		cooldown: g.opts.CooldownBase,
	}
	g.services[service] = st
	return st
}

// TryAcquire takes one token from the service's bucket if one is available
// at the governor's clock. It never blocks.
func (g *Governor) TryAcquire(service string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	now := g.now()
	acquired := st.bucket.AllowN(now, 1)
	g.metrics.SetTokens(service, st.bucket.TokensAt(now))
	return acquired
}

// Allow reports whether a call may be attempted. While open it fails fast;
// once the cool-down elapses exactly one half-open probe is let through.
func (g *Governor) Allow(service string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	now := g.now()
	switch st.circuit {
	case CircuitOpen:
		if now.Before(st.openUntil) {
			return ErrCircuitOpen
		}
		g.setCircuit(service, st, CircuitHalfOpen)
		st.probeInFlight = true
		st.probeStartedAt = now
		return nil
	case CircuitHalfOpen:
		// a probe that never reported back is abandoned after one cool-down
		if st.probeInFlight && now.Sub(st.probeStartedAt) < st.cooldown {
			return ErrCircuitOpen
		}
		st.probeInFlight = true
		st.probeStartedAt = now
		return nil
	default:
		return nil
	}
}

// ReleaseTrial hands back a half-open trial call that was granted but never
// made, so the next caller need not wait out the abandoned-trial window.
func (g *Governor) ReleaseTrial(service string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	if st.circuit == CircuitHalfOpen {
		st.probeInFlight = false
	}
}

// RecordSuccess closes the circuit and resets the failure streak.
func (g *Governor) RecordSuccess(service string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	st.failures = 0
	st.probeInFlight = false
	st.cooldown = g.opts.CooldownBase
	g.setCircuit(service, st, CircuitClosed)
}

// RecordFailure counts a transient failure. Reaching the threshold opens the
// circuit; a failed half-open probe re-opens it with a doubled cool-down.
func (g *Governor) RecordFailure(service string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	now := g.now()
	switch st.circuit {
	case CircuitHalfOpen:
		st.probeInFlight = false
		st.cooldown = minDuration(st.cooldown*2, g.opts.CooldownMax)
		st.openUntil = now.Add(st.cooldown)
		g.setCircuit(service, st, CircuitOpen)
	case CircuitOpen:
		st.openUntil = now.Add(st.cooldown)
	default:
		st.failures++
		if st.failures >= g.opts.FailureThreshold {
			st.openUntil = now.Add(st.cooldown)
			g.setCircuit(service, st, CircuitOpen)
		}
	}
}

// ObserveCallLimit feeds the remote's bucket usage header. Usage at or above
// the warn ratio stretches the inter-call delay.
func (g *Governor) ObserveCallLimit(service string, used, limit int) {
	if limit <= 0 || used < 0 {
		return
	}
	if float64(used)/float64(limit) < g.opts.WarnRatio {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stretch(service, g.state(service), 0)
}

// ObserveRateLimit stretches the delay after the remote rejected a call,
// honouring the retry-after hint when it is longer.
func (g *Governor) ObserveRateLimit(service string, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(service)
	g.stretch(service, st, retryAfter)
	// the bucket evidently disagrees with the remote's; drain it
	now := g.now()
	if whole := int(st.bucket.TokensAt(now)); whole > 0 {
		st.bucket.ReserveN(now, whole)
	}
	g.metrics.SetTokens(service, st.bucket.TokensAt(now))
}

// Delay returns the pause callers should take before the next call, decaying
// it toward the floor for every quiet period since the last warning.
func (g *Governor) Delay(service string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	if st.delay > g.opts.DelayFloor && !st.lastWarning.IsZero() {
		quiet := g.now().Sub(st.lastWarning)
		periods := int(quiet / g.opts.QuietPeriod)
		if periods > 0 {
			decayed := float64(st.delay) * math.Pow(delayDecay, float64(periods))
			st.delay = maxDuration(time.Duration(decayed), g.opts.DelayFloor)
			st.lastWarning = st.lastWarning.Add(time.Duration(periods) * g.opts.QuietPeriod)
			g.metrics.SetDelay(service, st.delay)
		}
	}
	return st.delay
}

// Snapshot returns a copy of the state for service.
func (g *Governor) Snapshot(service string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(service)
	return Snapshot{
		Service:   service,
		Tokens:    st.bucket.TokensAt(g.now()),
		Delay:     st.delay,
		Circuit:   st.circuit,
		Failures:  st.failures,
		OpenUntil: st.openUntil,
		Cooldown:  st.cooldown,
	}
}

func (g *Governor) stretch(service string, st *rateState, hint time.Duration) {
	next := time.Duration(float64(st.delay) * delayGrowth)
	if hint > next {
		next = hint
	}
	st.delay = minDuration(maxDuration(next, g.opts.DelayFloor), g.opts.DelayMax)
	st.lastWarning = g.now()
	g.metrics.SetDelay(service, st.delay)
}

func (g *Governor) setCircuit(service string, st *rateState, state CircuitState) {
	st.circuit = state
	g.metrics.SetCircuit(service, state.gauge())
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
