package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/cache"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
)

// Scope is where an activity is called from: the workflow function
// (*Workflow) or the body of a container activity (*Activity). It carries
// the instance and parent activity explicitly so nested calls never rely
// on ambient state.
type Scope interface {
	// Context returns the context of the scope.
	Context() context.Context

	frame() frame
}

// frame is what an activity call needs to know about its caller.
type frame struct {
	p               *pass
	ctx             context.Context
	parentID        id.ID
	parentVersionID id.ID
	parentIteration int
	iteration       int
}

// pass is the state shared by every scope of one replay pass.
type pass struct {
	x          *Executor
	ctx        context.Context
	cache      *cache.Cache
	instanceID id.ID

	mu       sync.Mutex
	position int
}

// save persists the working set. The write outlives the pass context so
// that a cancelled caller never leaves a finished activity unrecorded.
func (p *pass) save(ctx context.Context) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.x.cfg.SaveTimeout)
	defer cancel()
	return p.cache.Save(saveCtx)
}

func (p *pass) nextPosition() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position++
	return p.position
}

// ──────────────────────────────────────────────────
// Workflow scope
// ──────────────────────────────────────────────────

// Workflow is the scope handed to a workflow function.
type Workflow struct {
	p     *pass
	ctx   context.Context
	title string
}

var _ Scope = (*Workflow)(nil)

// Context returns the pass context. It is cancelled early enough to leave
// room for the final save.
func (w *Workflow) Context() context.Context { return w.ctx }

// InstanceID returns the workflow instance ID.
func (w *Workflow) InstanceID() id.ID { return w.p.instanceID }

// Title returns the workflow instance title.
func (w *Workflow) Title() string { return w.title }

// Logger returns the engine logger.
func (w *Workflow) Logger() *slog.Logger { return w.p.x.logger }

// Log appends an entry to the instance journal.
func (w *Workflow) Log(sev journal.Severity, message string, data any) {
	w.p.x.journal.Write(w.ctx, w.p.instanceID, id.Nil, sev, message, data)
}

func (w *Workflow) frame() frame {
	return frame{p: w.p, ctx: w.ctx}
}

// ──────────────────────────────────────────────────
// Activity scope
// ──────────────────────────────────────────────────

// Activity is the scope of a running activity. Container activities pass
// it to their body; activities called on it are nested under this one.
type Activity struct {
	p         *pass
	ctx       context.Context
	state     *activityState
	title     string
	iteration int
}

var _ Scope = (*Activity)(nil)

// activityState is shared by the iteration scopes of one container.
type activityState struct {
	mu   sync.Mutex
	inst *activity.Instance
}

// Context returns the invocation context.
func (a *Activity) Context() context.Context { return a.ctx }

// InstanceID returns the activity instance ID.
func (a *Activity) InstanceID() id.ID { return a.state.inst.ID }

// WorkflowInstanceID returns the workflow instance ID.
func (a *Activity) WorkflowInstanceID() id.ID { return a.p.instanceID }

// Title returns the activity title.
func (a *Activity) Title() string { return a.title }

// Iteration returns the loop iteration this scope runs, starting at 1.
// It is 0 outside loop bodies.
func (a *Activity) Iteration() int { return a.iteration }

// Attempt returns how often the activity has been started, this attempt
// included.
func (a *Activity) Attempt() int {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	return a.state.inst.Attempts
}

// StartedAt returns when the activity was first started.
func (a *Activity) StartedAt() time.Time {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	return a.state.inst.StartedAt
}

// GetContext reads a value from the activity's context dictionary.
func (a *Activity) GetContext(key string) (string, bool) {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	v, ok := a.state.inst.ContextDictionary[key]
	return v, ok
}

// SetContext stores a value in the activity's context dictionary. It is
// persisted with the next save of the activity.
func (a *Activity) SetContext(key, value string) {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	if a.state.inst.ContextDictionary == nil {
		a.state.inst.ContextDictionary = make(map[string]string)
	}
	a.state.inst.ContextDictionary[key] = value
}

// Log appends an entry to the journal of this activity.
func (a *Activity) Log(sev journal.Severity, message string, data any) {
	a.p.x.journal.Write(a.ctx, a.p.instanceID, a.state.inst.ID, sev, message, data)
}

// at returns a scope for loop iteration i sharing this activity's state.
func (a *Activity) at(i int) *Activity {
	cp := *a
	cp.iteration = i
	return &cp
}

func (a *Activity) frame() frame {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	return frame{
		p:               a.p,
		ctx:             a.ctx,
		parentID:        a.state.inst.ID,
		parentVersionID: a.state.inst.ActivityVersionID,
		parentIteration: a.state.inst.Iteration,
		iteration:       a.iteration,
	}
}
