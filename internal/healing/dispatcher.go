package healing

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/clock"
	"github.com/ocx/aec/internal/vitality"
)

// Domain classifies which repair strategy table applies.
type Domain string

const (
	DomainUI       Domain = "UI"
	DomainNetwork  Domain = "NETWORK"
	DomainLogic    Domain = "LOGIC"
	DomainDatabase Domain = "DATABASE"
)

// ErrorSignature groups errors by coarse type for predictor context keys.
type ErrorSignature string

const (
	SigTimeout ErrorSignature = "TIMEOUT"
	SigVisual  ErrorSignature = "VISUAL"
	SigSyntax  ErrorSignature = "SYNTAX"
	SigDBConn  ErrorSignature = "DB_CONN"
	SigGeneric ErrorSignature = "GENERIC"
)

// Strategy names, exactly as spec §4.4 enumerates them.
type Strategy string

const (
	StrategyNeuralMapRelocate   Strategy = "NEURAL_MAP_RELOCATE"
	StrategySemanticReconstruct Strategy = "SEMANTIC_RECONSTRUCT"
	StrategyResurrectNode       Strategy = "RESURRECT_NODE"
	StrategyRotateNode          Strategy = "ROTATE_NODE"
	StrategyFallbackStub        Strategy = "FALLBACK_STUB"
	StrategyHeuristicPatch      Strategy = "HEURISTIC_PATCH"
)

// Context is the input to Heal: what's being repaired and why it failed.
type Context struct {
	TargetID       string
	Domain         Domain
	ErrorSignature ErrorSignature
	Nodes          []string // candidate NETWORK nodes, in preference order
	FromRetry      bool     // true if this heal precedes a C1 retry of the same mutation
}

// Artifact is the repair output of a successful strategy.
type Artifact struct {
	Strategy Strategy
	Detail   string
}

// Predictor suggests the strategy most historically successful for a
// (domain, error signature) context key. The dispatcher falls through to
// the default strategy order if the predictor errs or abstains.
type Predictor interface {
	Predict(domain Domain, sig ErrorSignature) (Strategy, bool)
}

// DomainCounters tracks per-domain attempt/success/failure totals.
type DomainCounters struct {
	Attempts  int
	Successes int
	Failures  int
}

// Event is emitted on every heal attempt's resolution.
type Event struct {
	Kind     string // "healing:success" | "healing:failure"
	Domain   Domain
	Strategy Strategy
	Duration time.Duration
}

var defaultOrder = map[Domain][]Strategy{
	DomainUI:      {StrategyNeuralMapRelocate, StrategySemanticReconstruct},
	DomainNetwork: {StrategyResurrectNode, StrategyRotateNode, StrategyFallbackStub},
	DomainLogic:   {StrategyHeuristicPatch},
}

// Dispatcher implements C4.
type Dispatcher struct {
	clock     clock.Clock
	circuit   *CircuitBreaker
	predictor Predictor
	vitality  *vitality.Service
	onEvent   func(Event)

	mu       sync.Mutex
	counters map[Domain]*DomainCounters
	rrIndex  map[string]int // round-robin cursor, keyed by target id
}

// Config configures a Dispatcher.
type Config struct {
	Clock            clock.Clock
	CircuitThreshold int
	CircuitPenalty   time.Duration
	Predictor        Predictor
	Vitality         *vitality.Service
	OnEvent          func(Event)
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	threshold := cfg.CircuitThreshold
	if threshold <= 0 {
		threshold = 3
	}
	penalty := cfg.CircuitPenalty
	if penalty <= 0 {
		penalty = 5 * time.Minute
	}
	return &Dispatcher{
		clock:     c,
		circuit:   NewCircuitBreaker(c, threshold, penalty),
		predictor: cfg.Predictor,
		vitality:  cfg.Vitality,
		onEvent:   cfg.OnEvent,
		counters:  make(map[Domain]*DomainCounters),
		rrIndex:   make(map[string]int),
	}
}

// Circuit exposes the NETWORK circuit breaker for diagnostics (cmd/aecd's
// reaper diagnostic surface and tests).
func (d *Dispatcher) Circuit() *CircuitBreaker {
	return d.circuit
}

// Heal attempts to repair hctx.TargetID, trying strategies in order until
// one succeeds or the domain's table is exhausted.
func (d *Dispatcher) Heal(hctx Context) (Artifact, string, error) {
	start := d.clock.Now()
	d.recordAttempt(hctx.Domain)

	if hctx.Domain == DomainDatabase {
		d.recordFailure(hctx.Domain)
		d.emit(Event{Kind: "healing:failure", Domain: hctx.Domain, Duration: d.clock.Now().Sub(start)})
		return Artifact{}, "", fmt.Errorf("%w: DATABASE healing", aecerr.ErrHealNotImplemented)
	}

	order := d.strategyOrder(hctx.Domain, hctx.ErrorSignature)

	for _, strat := range order {
		artifact, ok := d.tryStrategy(strat, hctx)
		if !ok {
			continue
		}

		d.recordSuccess(hctx.Domain)
		status := vitality.StatusHealthy
		if hctx.FromRetry {
			status = vitality.StatusRecovering
		}
		var token string
		if d.vitality != nil {
			token = d.vitality.Issue(hctx.TargetID, status)
		}
		d.emit(Event{Kind: "healing:success", Domain: hctx.Domain, Strategy: strat, Duration: d.clock.Now().Sub(start)})
		return artifact, token, nil
	}

	d.recordFailure(hctx.Domain)
	d.emit(Event{Kind: "healing:failure", Domain: hctx.Domain, Duration: d.clock.Now().Sub(start)})
	return Artifact{}, "", aecerr.ErrHealExhausted
}

// strategyOrder places the predictor's suggestion first, if it errs or
// abstains the default order is used unmodified, per spec §4.4.
func (d *Dispatcher) strategyOrder(domain Domain, sig ErrorSignature) []Strategy {
	base := defaultOrder[domain]
	if d.predictor == nil {
		return base
	}

	suggested, ok := d.predictor.Predict(domain, sig)
	if !ok {
		return base
	}

	out := make([]Strategy, 0, len(base))
	out = append(out, suggested)
	for _, s := range base {
		if s != suggested {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) tryStrategy(strat Strategy, hctx Context) (Artifact, bool) {
	switch strat {
	case StrategyNeuralMapRelocate:
		if hctx.ErrorSignature == SigVisual {
			return Artifact{}, false
		}
		return Artifact{Strategy: strat, Detail: "relocated neural map anchors"}, true

	case StrategySemanticReconstruct:
		return Artifact{Strategy: strat, Detail: "rebuilt UI tree from semantic description"}, true

	case StrategyHeuristicPatch:
		if hctx.ErrorSignature == SigSyntax {
			return Artifact{Strategy: strat, Detail: "applied pattern-driven minimal rewrite"}, true
		}
		return Artifact{}, false

	case StrategyResurrectNode:
		for _, node := range hctx.Nodes {
			if !d.circuit.Dead(node) && hasFailureHistory(d.circuit, node) {
				return Artifact{Strategy: strat, Detail: fmt.Sprintf("revived node %s", node)}, true
			}
		}
		return Artifact{}, false

	case StrategyRotateNode:
		node, ok := d.nextHealthyNode(hctx.TargetID, hctx.Nodes)
		if !ok {
			return Artifact{}, false
		}
		return Artifact{Strategy: strat, Detail: fmt.Sprintf("rotated to node %s", node)}, true

	case StrategyFallbackStub:
		return Artifact{Strategy: strat, Detail: "served fallback stub response"}, true

	default:
		return Artifact{}, false
	}
}

// hasFailureHistory reports whether the breaker has ever tripped node —
// RESURRECT_NODE only applies to a node that was previously circuit-broken,
// not to one that has merely failed below the threshold or never been
// selected at all.
func hasFailureHistory(cb *CircuitBreaker, node string) bool {
	snap := cb.Snapshot()
	n, ok := snap[node]
	return ok && !n.DeadUntil.IsZero()
}

func (d *Dispatcher) nextHealthyNode(key string, nodes []string) (string, bool) {
	if len(nodes) == 0 {
		return "", false
	}
	d.mu.Lock()
	start := d.rrIndex[key]
	d.mu.Unlock()

	for i := 0; i < len(nodes); i++ {
		idx := (start + i) % len(nodes)
		node := nodes[idx]
		if !d.circuit.Dead(node) {
			d.mu.Lock()
			d.rrIndex[key] = (idx + 1) % len(nodes)
			d.mu.Unlock()
			return node, true
		}
	}
	return "", false
}

// RecordNodeFailure forwards a NETWORK node's failure to the circuit
// breaker; callers are expected to report this after an unsuccessful call
// to a node selected via Heal.
func (d *Dispatcher) RecordNodeFailure(node string) {
	d.circuit.RecordFailure(node)
}

// RecordNodeSuccess forwards a NETWORK node's success to the circuit
// breaker.
func (d *Dispatcher) RecordNodeSuccess(node string) {
	d.circuit.RecordSuccess(node)
}

func (d *Dispatcher) recordAttempt(domain Domain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counterFor(domain).Attempts++
}

func (d *Dispatcher) recordSuccess(domain Domain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counterFor(domain).Successes++
}

func (d *Dispatcher) recordFailure(domain Domain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counterFor(domain).Failures++
}

func (d *Dispatcher) counterFor(domain Domain) *DomainCounters {
	c, ok := d.counters[domain]
	if !ok {
		c = &DomainCounters{}
		d.counters[domain] = c
	}
	return c
}

// Counters returns a snapshot of every domain's attempt/success/failure
// totals.
func (d *Dispatcher) Counters() map[Domain]DomainCounters {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Domain]DomainCounters, len(d.counters))
	for k, v := range d.counters {
		out[k] = *v
	}
	return out
}

func (d *Dispatcher) emit(ev Event) {
	if d.onEvent != nil {
		d.onEvent(ev)
		return
	}
	slog.Debug(ev.Kind, "domain", ev.Domain, "strategy", ev.Strategy, "duration_ms", ev.Duration.Milliseconds())
}
