package worker

import "context"

type JobType int

const (
	Probe JobType = iota + 1
	Generate
	Stop
)

func (t JobType) String() string {
	switch t {
	case Probe:
		return "probe"
	case Generate:
		return "generate"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is a unit of work for one chat session. Jobs sharing a Key are handed out in
// submission order; different keys take turns.
type Job struct {
	Type JobType
	Key  string
	// Run must return once ctx is done. It is called exactly once, with an already
	// cancelled context when the job is dropped before reaching a worker.
	Run func(ctx context.Context)
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
