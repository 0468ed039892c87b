package comic

import (
	"context"
	"sync"

	"github.com/m-mizutani/comicforge/pkg/model"
)

// State is the phase of the current run
type State string

const (
	StateIdle           State = "idle"
	StateStoryRequested State = "story_requested"
	StateCoverRequested State = "cover_requested"
	StatePanelsInFlight State = "panels_in_flight"
	StateComplete       State = "complete"
)

// EventKind identifies what changed
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventComicReady   EventKind = "comic_ready"
	EventPanelUpdated EventKind = "panel_updated"
	EventRunFailed    EventKind = "run_failed"
	EventCaptured     EventKind = "captured"
	EventDeselected   EventKind = "deselected"
)

// Event is published to listeners after every state mutation
type Event struct {
	Kind    EventKind
	State   State
	ComicID model.ComicID
	PanelID model.PanelID
	Status  model.PanelStatus
	Err     error
}

// Listener receives events synchronously while the orchestrator holds its lock.
// A listener must not call back into the Orchestrator.
type Listener func(Event)

// View is a consistent copy of the orchestrator state
type View struct {
	State State
	// Comic is nil while idle or before the story and cover are ready
	Comic *model.Comic
	// Selected is false once the displayed comic was deleted from history
	Selected bool
	// Err is the failure of the last run, if it ended in one
	Err error
}

// runToken identifies one run or one history load. Work captures the token at dispatch
// and applies its result only while the token is still current.
type runToken struct {
	ctx     context.Context
	cancel  context.CancelFunc
	settled chan struct{}
	once    sync.Once
}

func newRunToken(parent context.Context) *runToken {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &runToken{
		ctx:     ctx,
		cancel:  cancel,
		settled: make(chan struct{}),
	}
}

// settle marks the run's background work as finished
func (t *runToken) settle() {
	t.once.Do(func() {
		close(t.settled)
	})
}

// invalidate abandons the run
func (t *runToken) invalidate() {
	t.cancel()
	t.settle()
}

// bind returns a context cancelled when either ctx or the token ends
func (t *runToken) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}
