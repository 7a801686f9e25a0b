package loader

import "fmt"

// State is a phase of the load state machine.
type State int

const (
	Idle State = iota
	Loading
	Loaded
	Failed
)

var stateNames = [...]string{
	Idle:    "idle",
	Loading: "loading",
	Loaded:  "loaded",
	Failed:  "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names MarshalText produces. The CLI uses it to
// read the state endpoint.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown loader state %q", b)
}

// AllStates lists every phase in declaration order.
func AllStates() []State {
	return []State{Idle, Loading, Loaded, Failed}
}

// transitions is the complete set of legal moves. Loaded is terminal;
// Failed may be retried by a fresh Load.
var transitions = map[State][]State{
	Idle:    {Loading},
	Loading: {Loaded, Failed},
	Failed:  {Loading},
	Loaded:  {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// mustTransition panics on an illegal move. The loader only ever moves
// along the table, so a panic here is a bug in the loader itself.
func mustTransition(from, to State) State {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("loader: illegal transition %s -> %s", from, to))
	}
	return to
}

// LoaderState is a snapshot of the loader, shaped for status endpoints.
type LoaderState struct {
	Phase     State `json:"phase"`
	IsLoaded  bool  `json:"isLoaded"`
	IsLoading bool  `json:"isLoading"`
	// Error is the last failure message; empty when there is none.
	Error string `json:"error,omitempty"`
	// LoadTimeMs is set once a load reaches Loaded.
	LoadTimeMs *float64 `json:"loadTimeMs"`
	// Stub marks a Loaded state whose handle is the fallback engine.
	Stub bool `json:"stub"`
	// Source is the URL the handle was loaded from, empty for the stub.
	Source string `json:"source,omitempty"`
}
