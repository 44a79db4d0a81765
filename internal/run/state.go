package run

import "fmt"

// State is the step the controller performs next. The cycle is
// AwaitingBaseline -> AwaitingAir -> AwaitingSample -> AwaitingBaseline.
type State int

const (
	AwaitingBaseline State = iota
	AwaitingAir
	AwaitingSample
)

var stateNames = map[State]string{
	AwaitingBaseline: "awaiting_baseline",
	AwaitingAir:      "awaiting_air",
	AwaitingSample:   "awaiting_sample",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Next returns the state that follows s.
func (s State) Next() State {
	return (s + 1) % 3
}

// Prompt is the operator instruction for the step performed in state s.
func (s State) Prompt() string {
	switch s {
	case AwaitingBaseline:
		return "Remove the cuvette from the guide, then continue to record the baseline."
	case AwaitingAir:
		return "Insert the empty cuvette, then continue to record air."
	case AwaitingSample:
		return "Fill the cuvette with the sample, then continue to measure."
	default:
		return ""
	}
}

func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid run state %d", int(s))
	}
	return []byte(name), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("invalid run state %q", text)
}
