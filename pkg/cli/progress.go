package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/usecase/comic"
)

// progress renders orchestrator events as a single spinner line
type progress struct {
	mu     sync.Mutex
	s      *spinner.Spinner
	total  int
	status map[model.PanelID]model.PanelStatus
	state  comic.State
}

func newProgress(w io.Writer) *progress {
	return &progress{
		s:      spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)),
		status: make(map[model.PanelID]model.PanelStatus),
		state:  comic.StateIdle,
	}
}

func (p *progress) start() {
	p.refresh()
	p.s.Start()
}

func (p *progress) stop() {
	p.s.Stop()
}

func (p *progress) setTotal(n int) {
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()
	p.refresh()
}

// onEvent is registered with Orchestrator.Subscribe. It never calls back into the
// orchestrator.
func (p *progress) onEvent(ev comic.Event) {
	p.mu.Lock()
	p.state = ev.State
	if ev.Kind == comic.EventPanelUpdated {
		p.status[ev.PanelID] = ev.Status
	}
	p.mu.Unlock()
	p.refresh()
}

func (p *progress) suffix() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case comic.StateStoryRequested:
		return " Writing the story..."
	case comic.StateCoverRequested:
		return " Drawing the cover..."
	case comic.StatePanelsInFlight, comic.StateComplete:
		var loaded, failed int
		for _, s := range p.status {
			switch s {
			case model.PanelStatusLoaded:
				loaded++
			case model.PanelStatusFailed:
				failed++
			}
		}
		msg := fmt.Sprintf(" Drawing panels %d/%d", loaded, p.total)
		if failed > 0 {
			msg += fmt.Sprintf(" (%d failed)", failed)
		}
		return msg
	default:
		return " Starting..."
	}
}

func (p *progress) refresh() {
	suffix := p.suffix()
	p.s.Lock()
	p.s.Suffix = suffix
	p.s.Unlock()
}

// confirm asks a yes/no question on the terminal. Anything but y or yes is no
func confirm(question string) (bool, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          question + " [y/N]: ",
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return false, err
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		// Ctrl-C and EOF both mean no
		return false, nil
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
