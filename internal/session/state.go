package session

import "fmt"

// State is the position of a session in the calibration workflow.
type State int

// Workflow states in order.
const (
	StateEmpty State = iota
	StateImagesLoaded
	StateMatched
	StateStitched
	StateCornersPicked
	StateSquared
)

var stateNames = [...]string{"empty", "images_loaded", "matched", "stitched", "corners_picked", "squared"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
