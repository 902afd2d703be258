// Package gate implements the Verification Gate template method: a
// per-gate circuit breaker and timeout wrap an advisory check that
// never lets an error, timeout, or open breaker block the caller.
// Grounded on the reference codebase's ActionValidator/ValidatorRegistry
// (interface + registry composing many checks, aggregate result
// reporting), generalized from post-action output validation to
// pre-action advisory gates that compose the Decision Engine.
package gate

import (
	"context"
	"time"

	"github.com/synapse-ids/ids/internal/breaker"
	"github.com/synapse-ids/ids/internal/logging"
)

// Result is what every gate returns, regardless of what happened
// inside it (spec §4.7: "Errors NEVER surface to the caller").
// Everything beyond Passed/Blocking/Warnings/Data is filled in by the
// Gate wrapper, never by the concrete verifier.
type Result struct {
	GateID              string                 `json:"gateId"`
	GateName            string                 `json:"gateName"`
	Agent               string                 `json:"agent,omitempty"`
	Timestamp           time.Time              `json:"timestamp"`
	Passed              bool                   `json:"passed"`
	Blocking            bool                   `json:"blocking"`
	Warnings            []string               `json:"warnings,omitempty"`
	Data                map[string]interface{} `json:"data,omitempty"`
	Override            string                 `json:"override,omitempty"`
	ExecutionMs         int64                  `json:"executionMs"`
	CircuitBreakerState breaker.State          `json:"circuitBreakerState"`
}

// Verifier is implemented by each concrete gate's domain-specific
// check. It may return an error; Gate.Verify guarantees the error
// never escapes.
type Verifier interface {
	// Name identifies the gate (e.g. "G1", "G2").
	Name() string
	// DisplayName is the human label (e.g. "epic-creation").
	DisplayName() string
	// Blocking reports whether this gate may set Result.Blocking=true
	// when its own check fails. G1-G4 are advisory and always return
	// false here.
	Blocking() bool
	// DoVerify runs the gate's actual check.
	DoVerify(ctx context.Context, input map[string]interface{}) (Result, error)
}

// Gate is the template-method wrapper every concrete gate shares.
type Gate struct {
	verifier Verifier
	breaker  *breaker.Breaker
	timeout  time.Duration
}

// New wraps verifier with a dedicated breaker and timeout.
func New(verifier Verifier, br *breaker.Breaker, timeout time.Duration) *Gate {
	return &Gate{verifier: verifier, breaker: br, timeout: timeout}
}

// Verify runs the gate lifecycle (spec §4.7):
//  1. if the breaker is open, return passed-with-warning immediately;
//  2. otherwise run DoVerify under timeout;
//  3. on success record_success and return its result;
//  4. on timeout or error record_failure and return passed-with-warning.
func (g *Gate) Verify(ctx context.Context, input map[string]interface{}) Result {
	name := g.verifier.Name()
	start := time.Now()

	finish := func(res Result) Result {
		res.GateID = name
		res.GateName = g.verifier.DisplayName()
		res.Agent, _ = input["agent"].(string)
		res.Timestamp = start.UTC()
		res.ExecutionMs = time.Since(start).Milliseconds()
		res.CircuitBreakerState = g.breaker.GetState()
		return res
	}

	if !g.breaker.IsAllowed() {
		logging.GateWarn("%s: breaker open, skipping verification", name)
		return finish(degradedResult("circuit breaker open, gate skipped"))
	}

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- &panicError{value: r}
			}
		}()
		res, err := g.verifier.DoVerify(ctx, input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	select {
	case res := <-resultCh:
		g.breaker.RecordSuccess()
		if g.verifier.Blocking() {
			res.Blocking = res.Blocking && !res.Passed
		} else {
			res.Blocking = false
			res.Passed = true
		}
		return finish(res)

	case err := <-errCh:
		g.breaker.RecordFailure()
		logging.GateWarn("%s: verification error: %v", name, err)
		return finish(degradedResult(err.Error()))

	case <-timeoutCtx.Done():
		g.breaker.RecordFailure()
		logging.GateWarn("%s: verification timed out after %s", name, g.timeout)
		return finish(degradedResult("verification timed out"))
	}
}

func degradedResult(warning string) Result {
	return Result{Passed: true, Blocking: false, Warnings: []string{warning}}
}

type panicError struct{ value interface{} }

func (p *panicError) Error() string {
	return "panic during verification"
}
