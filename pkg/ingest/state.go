package ingest

import "fmt"

// State is a step of one AddTable run.
type State int

const (
	StateStart State = iota
	StateStructureEnsured
	StateIDAssigned
	StateSchemaInspected
	StateFilesCopied
	StateCatalogCommitted
	StateVersionNotified // terminal success
	StateAborted         // terminal failure
)

var stateNames = [...]string{
	StateStart:            "Start",
	StateStructureEnsured: "StructureEnsured",
	StateIDAssigned:       "IDAssigned",
	StateSchemaInspected:  "SchemaInspected",
	StateFilesCopied:      "FilesCopied",
	StateCatalogCommitted: "CatalogCommitted",
	StateVersionNotified:  "VersionNotified",
	StateAborted:          "Aborted",
}

// step names the work that produces each state; errors carry it as "step".
var stepNames = [...]string{
	StateStructureEnsured: "ensure_structure",
	StateIDAssigned:       "assign_id",
	StateSchemaInspected:  "inspect_schema",
	StateFilesCopied:      "copy_files",
	StateCatalogCommitted: "commit_catalog",
	StateVersionNotified:  "notify_version_control",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Step returns the name of the step that leads into s.
func (s State) Step() string {
	if s <= StateStart || int(s) >= len(stepNames) {
		return ""
	}
	return stepNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateVersionNotified || s == StateAborted
}

// CanTransition reports whether to may follow s. Runs advance one state at a
// time; Aborted is reachable from every non-terminal state.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	return to == s+1
}

// Transition is reported to OnTransition observers.
type Transition struct {
	RunID string
	Table string
	From  State
	To    State
	// ID is the assigned table id, or -1 before IDAssigned.
	ID int64
	// Err is set when To is Aborted.
	Err error
}
