// Package flow implements the ConnectionFlow collaborator of spec.md §4.5:
// a linear, ordered sequence of suspendable Steps executed between
// CONNECTING and AWAITING_INITIAL, grounded on the shape of
// ProxyConnection.startTunneling/enableSSLAsClient/enableSSLAsServer
// (ProxyConnection.java:244-297) and the anonymous ConnectionFlowStep
// subclasses in ClientToProxyConnection (e.g. RespondCONNECTSuccessful,
// ClientToProxyConnection.java:323-339).
package flow

import "context"

// Step is one stage of a connection flow.
type Step interface {
	// Applies reports whether this step should run for the current flow.
	Applies() bool
	// SuppressInitialRequest, if true, means this step alone already
	// satisfies the in-flight request (e.g. a CONNECT 200 response), so
	// the Flow must not forward the buffered initial request afterward.
	SuppressInitialRequest() bool
	// Execute runs the step, returning an error on failure. The flow
	// aborts at the first failing step.
	Execute(ctx context.Context) error
}

// Flow is the ordered list of Steps for one ServerConn connection attempt.
// Re-entrancy: a Flow instance is only ever run once, on the connection's
// owning goroutine; no step runs concurrently with another in the same
// Flow, satisfying spec.md §4.5's re-entrancy rule trivially (Go has no
// implicit thread pool here — Run is a plain synchronous loop).
type Flow struct {
	steps []Step
}

func New(steps ...Step) *Flow {
	return &Flow{steps: steps}
}

// Result reports how a Flow finished.
type Result struct {
	Suppressed bool
	FailedStep int
	Err        error
}

// Run executes each applicable step in order, stopping at the first
// failure. Suppressed is true if any executed step requested initial
// request suppression.
func (f *Flow) Run(ctx context.Context) Result {
	suppressed := false
	for i, step := range f.steps {
		if !step.Applies() {
			continue
		}
		if err := step.Execute(ctx); err != nil {
			return Result{FailedStep: i, Err: err}
		}
		if step.SuppressInitialRequest() {
			suppressed = true
		}
	}
	return Result{Suppressed: suppressed, FailedStep: -1}
}

// FuncStep adapts a plain function into a Step whose Applies/
// SuppressInitialRequest are fixed at construction — the common case,
// grounded on LittleProxy's anonymous single-purpose ConnectionFlowStep
// subclasses.
type FuncStep struct {
	AppliesFn   func() bool
	Suppress    bool
	ExecuteFunc func(ctx context.Context) error
}

func (s *FuncStep) Applies() bool {
	if s.AppliesFn == nil {
		return true
	}
	return s.AppliesFn()
}

func (s *FuncStep) SuppressInitialRequest() bool { return s.Suppress }

func (s *FuncStep) Execute(ctx context.Context) error { return s.ExecuteFunc(ctx) }
