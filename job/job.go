package job

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/conduit/logger"
)

// Priority is the scheduling class of a job. It is recorded and logged but
// does not change how goroutines are scheduled.
type Priority int

const (
	// PriorityUserInitiated is used for work a user is actively waiting on.
	PriorityUserInitiated Priority = iota
	// PriorityUtility is used for work whose result is needed soon.
	PriorityUtility
	// PriorityBackground is used for speculative or maintenance work.
	PriorityBackground
)

func (p Priority) String() string {
	switch p {
	case PriorityUserInitiated:
		return "user-initiated"
	case PriorityUtility:
		return "utility"
	case PriorityBackground:
		return "background"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses the String form of a priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user-initiated", "user":
		return PriorityUserInitiated, nil
	case "utility", "":
		return PriorityUtility, nil
	case "background":
		return PriorityBackground, nil
	}
	return 0, fmt.Errorf("unknown job priority %q", s)
}

// Observer receives progress and cancellation of the jobs it is attached to.
type Observer interface {
	JobProgressed(j *Job, progress float64)
	JobCancelled(j *Job)
}

// Job is a cooperative cancellation and scheduling token. Every asynchronous
// entry point of the engine takes the job it runs under as first argument.
type Job struct {
	id       uuid.UUID
	priority Priority
	ctx      context.Context
	cancel   context.CancelFunc

	mu             sync.Mutex
	observers      []Observer
	progress       map[string]float64
	cancelNotified bool
}

// New creates a root job.
func New(priority Priority) *Job {
	return NewWithContext(context.Background(), priority)
}

// NewWithContext creates a job that is cancelled when ctx is done.
func NewWithContext(ctx context.Context, priority Priority) *Job {
	cctx, cancel := context.WithCancel(ctx)
	j := &Job{
		id:       uuid.New(),
		priority: priority,
		ctx:      cctx,
		cancel:   cancel,
		progress: make(map[string]float64),
	}
	context.AfterFunc(cctx, j.notifyCancelled)
	return j
}

// Child creates a job with the same priority that is cancelled whenever j is.
// Cancelling the child does not affect j.
func (j *Job) Child() *Job {
	return NewWithContext(j.ctx, j.priority)
}

// ID returns the job identity.
func (j *Job) ID() uuid.UUID { return j.id }

// Priority returns the job's priority class.
func (j *Job) Priority() Priority { return j.priority }

// Context returns a context that is done once the job is cancelled.
func (j *Job) Context() context.Context { return j.ctx }

// IsCancelled reports whether the job has been cancelled. Once true it stays true.
func (j *Job) IsCancelled() bool {
	return j.ctx.Err() != nil
}

// Cancel marks the job cancelled. Observers are notified exactly once, on a
// separate goroutine. Calling Cancel again has no effect.
func (j *Job) Cancel() {
	j.cancel()
}

// Async runs work on a new goroutine. Work reads IsCancelled itself; it is
// started even when the job is already cancelled.
func (j *Job) Async(work func()) {
	go work()
}

// Main runs work on the process-wide serialized coordinator. Work items run
// one at a time in submission order.
func (j *Job) Main(work func()) {
	mainQueue.submit(work)
}

// AddObserver attaches o. The last known state is replayed to o on attach:
// progress if any was reported, cancellation if it was already signalled.
func (j *Job) AddObserver(o Observer) {
	j.mu.Lock()
	j.observers = append(j.observers, o)
	replayProgress := len(j.progress) > 0
	progress := j.meanLocked()
	replayCancel := j.cancelNotified
	j.mu.Unlock()

	if replayProgress {
		o.JobProgressed(j, progress)
	}
	if replayCancel {
		o.JobCancelled(j)
	}
}

// RemoveObserver detaches o. It is a no-op when o is not attached.
func (j *Job) RemoveObserver(o Observer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, existing := range j.observers {
		if existing == o {
			j.observers = append(j.observers[:i], j.observers[i+1:]...)
			return
		}
	}
}

// ReportProgress records the completed fraction of one component of the
// job's work. Overall progress is the mean of all components.
func (j *Job) ReportProgress(key string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	j.mu.Lock()
	j.progress[key] = fraction
	overall := j.meanLocked()
	observers := append([]Observer(nil), j.observers...)
	j.mu.Unlock()

	for _, o := range observers {
		o.JobProgressed(j, overall)
	}
}

// Progress returns the overall progress in [0, 1].
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.meanLocked()
}

// JobProgressed records the observed job's progress as one component of j.
func (j *Job) JobProgressed(source *Job, progress float64) {
	j.ReportProgress(source.id.String(), progress)
}

// JobCancelled cancels j when an observed job is cancelled.
func (j *Job) JobCancelled(*Job) {
	j.Cancel()
}

// Log returns a logger tagged with the job id and priority.
func (j *Job) Log() *logger.Logger {
	return logger.Get("job").WithJob(j.id.String()).
		WithFields(logger.Fields(logger.FieldPriority, j.priority.String()))
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s)", j.id, j.priority)
}

func (j *Job) meanLocked() float64 {
	if len(j.progress) == 0 {
		return 0
	}
	var sum float64
	for _, p := range j.progress {
		sum += p
	}
	return sum / float64(len(j.progress))
}

func (j *Job) notifyCancelled() {
	j.mu.Lock()
	if j.cancelNotified {
		j.mu.Unlock()
		return
	}
	j.cancelNotified = true
	observers := append([]Observer(nil), j.observers...)
	j.mu.Unlock()

	for _, o := range observers {
		o.JobCancelled(j)
	}
}
