// Package engine orchestrates one sync iteration: per-broker position
// reconciliation and balance derivation, then a global valuation pass over
// the ledger. Iterations are single-flight and bounded by a deadline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"ledger-sync-go/balance"
	"ledger-sync-go/config"
	"ledger-sync-go/gateway"
	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/ledger"
	"ledger-sync-go/metrics"
	"ledger-sync-go/reconcile"
	"ledger-sync-go/valuation"
)

// State 同步引擎状态机
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ErrIterationTimeout is returned when an iteration hits its deadline. The
// ledger may be mid-sync at that point; the caller is expected to treat it
// as fatal and let the supervisor restart the process.
var ErrIterationTimeout = errors.New("sync iteration timed out")

// ErrAlreadyRunning is returned when RunIteration is called while a previous
// iteration still holds the ledger.
var ErrAlreadyRunning = errors.New("sync iteration already running")

// BrokerResult collects one broker's stage outcomes. A broker's errors never
// suppress another broker's sync.
type BrokerResult struct {
	Broker    string
	Reconcile reconcile.Result
	Balance   balance.Summary
	Errors    []error
}

// Result summarizes one iteration.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Brokers   []BrokerResult
	Valuation valuation.Result
}

// Orchestrator drives the sync stages. Policy is swappable at runtime so a
// config reload takes effect on the next iteration.
type Orchestrator struct {
	Store   *ledger.Store
	Logger  *logger.Logger
	Brokers *gateway.Service
	Oracle  gateway.VolatilitySource

	state  atomic.Int32
	mu     sync.RWMutex
	policy config.SyncConfig
}

// New builds an orchestrator with the given sync policy.
func New(store *ledger.Store, log *logger.Logger, brokers *gateway.Service, oracle gateway.VolatilitySource, policy config.SyncConfig) *Orchestrator {
	o := &Orchestrator{Store: store, Logger: log, Brokers: brokers, Oracle: oracle, policy: policy}
	return o
}

// State returns the engine's current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SetPolicy swaps the sync policy; the next iteration picks it up.
func (o *Orchestrator) SetPolicy(policy config.SyncConfig) {
	o.mu.Lock()
	o.policy = policy
	o.mu.Unlock()
}

// Policy returns the current sync policy.
func (o *Orchestrator) Policy() config.SyncConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.policy
}

// RunIteration runs one full sync pass, bounded by the configured timeout.
// Per-broker failures are collected into the result; a deadline hit returns
// ErrIterationTimeout.
func (o *Orchestrator) RunIteration(ctx context.Context) (Result, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) &&
		!o.state.CompareAndSwap(int32(StateCompleted), int32(StateRunning)) {
		return Result{}, ErrAlreadyRunning
	}

	policy := o.Policy()
	start := time.Now()
	res := Result{RunID: ulid.Make().String(), StartedAt: start.UTC()}
	log := o.Logger.WithFields(map[string]interface{}{"run_id": res.RunID})
	log.LogSync("iteration_started", nil)

	ctx, cancel := context.WithTimeout(ctx, policy.Timeout())
	defer cancel()

	names := o.Brokers.Names()
	sort.Strings(names)
	asOf := start.UTC()
	for _, name := range names {
		br := o.syncBroker(ctx, log, name, policy, asOf)
		res.Brokers = append(res.Brokers, br)
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() == nil {
		valEngine := &valuation.Engine{
			Store:            o.Store,
			Logger:           log,
			Brokers:          o.Brokers,
			Oracle:           o.Oracle,
			RefreshCostBasis: policy.RefreshCostBasis && policy.ReconcilePositions,
		}
		val, err := valEngine.Run(ctx, asOf)
		if err != nil {
			log.LogError(err, map[string]interface{}{"stage": "valuation"})
			metrics.StageErrors.WithLabelValues("valuation", "").Inc()
		} else {
			res.Valuation = val
		}
	}

	res.Duration = time.Since(start)
	metrics.IterationDuration.Observe(res.Duration.Seconds())

	if ctx.Err() != nil {
		o.state.Store(int32(StateTimedOut))
		metrics.IterationsTotal.WithLabelValues("timed_out").Inc()
		log.LogSync("iteration_timed_out", map[string]interface{}{
			"duration": res.Duration.String(),
		})
		return res, fmt.Errorf("%w after %s", ErrIterationTimeout, res.Duration)
	}

	o.state.Store(int32(StateCompleted))
	metrics.IterationsTotal.WithLabelValues("completed").Inc()
	log.LogSync("iteration_completed", map[string]interface{}{
		"duration": res.Duration.String(),
		"brokers":  len(res.Brokers),
	})
	return res, nil
}

// syncBroker runs the reconcile and balance stages for one broker inside a
// recover scope, so a panicking broker integration cannot take down the
// iteration.
func (o *Orchestrator) syncBroker(ctx context.Context, log *logger.Logger, name string, policy config.SyncConfig, asOf time.Time) (res BrokerResult) {
	res.Broker = name
	defer func() {
		if p := recover(); p != nil {
			res.Errors = append(res.Errors, fmt.Errorf("broker %s panicked: %v", name, p))
			metrics.StageErrors.WithLabelValues("panic", name).Inc()
		}
	}()

	broker, err := o.Brokers.Broker(name)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	if policy.ReconcilePositions {
		recEngine := &reconcile.Engine{
			Store:  o.Store,
			Logger: log,
			Policy: reconcile.Policy{InsertUncategorized: policy.UpdateUncategorized},
		}
		rec, err := recEngine.Run(ctx, broker, asOf)
		if err != nil {
			res.Errors = append(res.Errors, err)
			log.LogError(err, map[string]interface{}{"stage": "reconcile", "broker": name})
			metrics.StageErrors.WithLabelValues("reconcile", name).Inc()
		} else {
			res.Reconcile = rec
		}
	}

	balEngine := &balance.Engine{Store: o.Store, Logger: log}
	bal, err := balEngine.Run(ctx, broker, asOf)
	if err != nil {
		res.Errors = append(res.Errors, err)
		log.LogError(err, map[string]interface{}{"stage": "balance", "broker": name})
		metrics.StageErrors.WithLabelValues("balance", name).Inc()
	} else {
		res.Balance = bal
	}
	return res
}
