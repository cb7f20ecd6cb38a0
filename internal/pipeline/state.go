package pipeline

// State is the position of a run in the fetch, transform, load sequence.
type State int

const (
	NotStarted State = iota
	Fetching
	Transforming
	Loading
	Succeeded
	// Failed is terminal; Result.Stage names the stage that failed.
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Fetching:
		return "fetching"
	case Transforming:
		return "transforming"
	case Loading:
		return "loading"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage names used in results, logs and metrics.
const (
	StageConfig    = "config"
	StageFetch     = "fetch"
	StageTransform = "transform"
	StageLoad      = "load"
)

// stageOf maps a working state to its stage name.
func stageOf(s State) string {
	switch s {
	case Fetching:
		return StageFetch
	case Transforming:
		return StageTransform
	case Loading:
		return StageLoad
	default:
		return StageConfig
	}
}
