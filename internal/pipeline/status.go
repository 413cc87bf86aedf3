package pipeline

// Status is the terminal outcome of a run.
type Status int

const (
	// Completed means the batch was fetched, normalized and loaded.
	Completed Status = iota
	// SkippedEmpty means the source returned no records; the sink was not
	// touched.
	SkippedEmpty
	// AbortedAtFetch means the source could not be read.
	AbortedAtFetch
	// AbortedAtLoad means the sink rejected or failed the batch. Nothing
	// from the batch was committed.
	AbortedAtLoad
)

// Process exit codes. ExitConfig is used by the binary before a run starts.
const (
	ExitOK         = 0
	ExitConfig     = 2
	ExitFetchError = 3
	ExitLoadError  = 4
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "Completed"
	case SkippedEmpty:
		return "SkippedEmpty"
	case AbortedAtFetch:
		return "AbortedAtFetch"
	case AbortedAtLoad:
		return "AbortedAtLoad"
	default:
		return "Unknown"
	}
}

// ExitCode maps s to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case Completed, SkippedEmpty:
		return ExitOK
	case AbortedAtFetch:
		return ExitFetchError
	default:
		return ExitLoadError
	}
}

// State is a step of the run state machine:
//
//	Start -> Fetched -> Normalized -> Loaded -> Done
//
// Aborted is reached from Start when the fetch fails or returns nothing, and
// from Normalized when the load fails. Only SkippedEmpty aborts without an
// error.
type State int

const (
	Start State = iota
	Fetched
	Normalized
	Loaded
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Start:
		return "START"
	case Fetched:
		return "FETCHED"
	case Normalized:
		return "NORMALIZED"
	case Loaded:
		return "LOADED"
	case Done:
		return "DONE"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}
