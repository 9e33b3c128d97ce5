package engine

import "time"

// StepKind tells whether a step invoked a middleware or a node.
type StepKind uint8

const (
	StepNode StepKind = iota
	StepMiddleware
)

func (k StepKind) String() string {
	if k == StepMiddleware {
		return "middleware"
	}
	return "node"
}

// Step records one unit invocation.
type Step struct {
	Kind StepKind
	Ref  Ref
	// Outcome is the kind of result the unit returned, or KindInvalid when
	// it failed.
	Outcome  ResultKind
	Err      error
	Duration time.Duration
}

// Failed reports whether the invocation returned an error.
func (s Step) Failed() bool { return s.Err != nil }

// Chain is the ordered record of every unit invoked during one process.
type Chain []Step

// Names returns the refs of the chain in invocation order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = string(s.Ref)
	}
	return names
}

func (c Chain) clone() Chain {
	if c == nil {
		return nil
	}
	out := make(Chain, len(c))
	copy(out, c)
	return out
}
