package sender

import "fmt"

// State is a step of sending a transfer.
type State int

const (
	StateBuilt State = iota
	StateEstimated
	StateBalanceChecked
	StateSigned
	StateWrapped
	StateBroadcast
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateEstimated:
		return "estimated"
	case StateBalanceChecked:
		return "balance_checked"
	case StateSigned:
		return "signed"
	case StateWrapped:
		return "wrapped"
	case StateBroadcast:
		return "broadcast"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	sendFlow = []State{StateBuilt, StateEstimated, StateBalanceChecked, StateSigned, StateWrapped, StateBroadcast}
	// prepared messages are signed once and estimated afterwards
	preparedFlow = []State{StateBuilt, StateSigned, StateWrapped, StateEstimated, StateBalanceChecked, StateBroadcast}
)

// pipeline only moves to the next state of its flow, skips and repeats are errors.
type pipeline struct {
	flow []State
	pos  int
}

func newPipeline(flow []State) *pipeline {
	return &pipeline{flow: flow}
}

func (p *pipeline) State() State {
	return p.flow[p.pos]
}

func (p *pipeline) advance(to State) error {
	if p.pos+1 >= len(p.flow) || p.flow[p.pos+1] != to {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, p.State(), to)
	}
	p.pos++
	return nil
}
