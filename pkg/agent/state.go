package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

// Phase is a position in the controller's state machine.
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseActing     Phase = "ACTING"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseAborted    Phase = "ABORTED"
)

// IsTerminal reports whether the run has stopped iterating.
func (p Phase) IsTerminal() bool {
	return p == PhaseFinalizing || p == PhaseAborted
}

// Turn is one entry in the agent's working history.
type Turn struct {
	Iteration   int            `json:"iteration"`
	Thought     string         `json:"thought,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	Observation string         `json:"observation"`
	Failed      bool           `json:"failed,omitempty"`
}

// Finding is an answer a relevant search produced.
type Finding struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// State is owned by one Process call and never shared.
type State struct {
	Instruction  string
	History      []Turn
	Fingerprints map[string]int
	Iteration    int
	Phase        Phase
	LoopDetected bool

	Findings []Finding

	// Candidate is the last extraction that passed grounding.
	Candidate provider.Result

	maxHistory int
}

func newState(instruction string, maxHistory int) *State {
	return &State{
		Instruction:  instruction,
		History:      []Turn{{Observation: "task: " + instruction}},
		Fingerprints: map[string]int{},
		Phase:        PhasePlanning,
		maxHistory:   maxHistory,
	}
}

// record appends a turn and prunes the history. The first turn, which
// carries the task, is always kept.
func (s *State) record(t Turn) {
	t.Iteration = s.Iteration
	s.History = append(s.History, t)
	if s.maxHistory > 1 && len(s.History) > s.maxHistory {
		keep := s.maxHistory - 1
		pruned := make([]Turn, 0, s.maxHistory)
		pruned = append(pruned, s.History[0])
		pruned = append(pruned, s.History[len(s.History)-keep:]...)
		s.History = pruned
	}
}

// sighting counts a tool call and returns how often it has now been seen.
func (s *State) sighting(tool string, args map[string]any) int {
	fp := fingerprint(tool, args)
	s.Fingerprints[fp]++
	return s.Fingerprints[fp]
}

// fingerprint hashes a tool name with its arguments. encoding/json sorts
// map keys, so equal arguments hash equally.
func fingerprint(tool string, args map[string]any) string {
	if len(args) == 0 {
		args = nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte(err.Error())
	}
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
