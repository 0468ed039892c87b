package comic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Orchestrator drives one comic at a time from preferences to a fully rendered comic.
// All state lives behind mu. Background panel work holds the run token it was
// dispatched with and drops its result once that token is no longer current.
type Orchestrator struct {
	client  interfaces.GenerativeClient
	history interfaces.HistoryRepository
	policy  interfaces.CapturePolicy

	concurrency  int
	limiter      *rate.Limiter
	panelTimeout time.Duration
	speech       *cache.Cache
	now          func() time.Time

	mu           sync.Mutex
	token        *runToken
	state        State
	comic        *model.Comic
	selected     bool
	lastErr      error
	listeners    map[int]Listener
	nextListener int
	// changed is closed and replaced on every published event
	changed chan struct{}
}

// Option is a functional option for Orchestrator
type Option func(*Orchestrator)

// WithHistory records fully loaded comics and syncs later edits
func WithHistory(h interfaces.HistoryRepository) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// WithCapturePolicy lets a policy veto history capture
func WithCapturePolicy(p interfaces.CapturePolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithConcurrency sets how many panel images are requested at once. 1 is sequential
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRateLimit spaces image requests by interval. Zero disables the limiter
func WithRateLimit(interval time.Duration, burst int) Option {
	return func(o *Orchestrator) {
		if interval <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

// WithPanelTimeout fails a panel whose image request takes longer than d
func WithPanelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.panelTimeout = d
	}
}

// WithSpeechCache overrides the synthesized speech cache
func WithSpeechCache(c *cache.Cache) Option {
	return func(o *Orchestrator) {
		o.speech = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an idle Orchestrator
func New(client interfaces.GenerativeClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		concurrency: 1,
		speech:      cache.New(defaultSpeechTTL, defaultSpeechCleanup),
		now:         time.Now,
		state:       StateIdle,
		listeners:   make(map[int]Listener),
		changed:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Subscribe registers l and returns a function removing it
func (o *Orchestrator) Subscribe(l Listener) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextListener
	o.nextListener++
	o.listeners[id] = l

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// publishLocked must be called with mu held
func (o *Orchestrator) publishLocked(ev Event) {
	ev.State = o.state
	if ev.ComicID == "" && o.comic != nil {
		ev.ComicID = o.comic.ID
	}
	for _, l := range o.listeners {
		l(ev)
	}
	close(o.changed)
	o.changed = make(chan struct{})
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.state = s
	o.publishLocked(Event{Kind: EventStateChanged})
}

// Snapshot returns a copy of the current state
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	return View{
		State:    o.state,
		Comic:    o.comic.Clone(),
		Selected: o.selected,
		Err:      o.lastErr,
	}
}

// Wait blocks until the current run's panel work settles, including panels being
// retried, or the run is reset
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		tok := o.token
		changed := o.changed
		pending := o.comic != nil && !o.comic.Settled()
		o.mu.Unlock()

		if tok == nil {
			return nil
		}

		settled := tok.settled
		select {
		case <-settled:
			if !pending {
				return nil
			}
			settled = nil
		default:
		}

		select {
		case <-changed:
		case <-settled:
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "interrupted while waiting for comic generation")
		}
	}
}

// Reset abandons the current run and returns to idle. Results of work already in
// flight are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func (o *Orchestrator) resetLocked() {
	if o.token != nil {
		o.token.invalidate()
		o.token = nil
	}
	o.comic = nil
	o.selected = false
	o.lastErr = nil
	o.setStateLocked(StateIdle)
}

// CreateComic runs story and cover generation, then starts panel generation in the
// background and returns a copy of the comic with every panel pending. A newer run or
// Reset supersedes it.
func (o *Orchestrator) CreateComic(ctx context.Context, prefs model.Preferences, images []model.ReferenceImage) (*model.Comic, error) {
	if len(images) == 0 {
		return nil, goerr.Wrap(model.ErrValidation, "at least one reference image is required")
	}
	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	logger := logging.From(ctx)

	o.mu.Lock()
	o.resetLocked()
	tok := newRunToken(ctx)
	o.token = tok
	o.setStateLocked(StateStoryRequested)
	o.mu.Unlock()

	logger.Info("comic generation started", "images", len(images), "art_style", prefs.ArtStyle)

	callCtx, done := tok.bind(ctx)
	story, err := o.client.GenerateStory(callCtx, prefs, images)
	done()
	if err == nil {
		err = story.Validate()
	}
	if err != nil {
		return nil, o.failRun(ctx, tok, err, "failed to generate story")
	}

	o.mu.Lock()
	if o.token != tok {
		o.mu.Unlock()
		return nil, goerr.Wrap(model.ErrRunCancelled, "run superseded after story generation")
	}
	o.setStateLocked(StateCoverRequested)
	o.mu.Unlock()

	logger.Info("story generated", "title", story.Title, "panels", len(story.Panels))

	callCtx, done = tok.bind(ctx)
	cover, err := o.client.GenerateImage(callCtx, story.CoverPrompt, model.AspectRatioCover, model.ModelHintNone)
	done()
	if err != nil {
		return nil, o.failRun(ctx, tok, err, "failed to generate cover")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token != tok {
		return nil, goerr.Wrap(model.ErrRunCancelled, "run superseded after cover generation")
	}

	c := model.NewComic(model.NewComicID(), story, cover, o.now())
	o.comic = c
	o.selected = true
	o.state = StatePanelsInFlight
	o.publishLocked(Event{Kind: EventComicReady})

	ids := make([]model.PanelID, len(c.Panels))
	for i, p := range c.Panels {
		ids[i] = p.ID
	}
	go o.runPanels(tok, ids)

	logger.Info("panel generation dispatched", "comic_id", c.ID, "panels", len(ids), "concurrency", o.concurrency)
	return c.Clone(), nil
}

// failRun ends a run that failed before its comic existed
func (o *Orchestrator) failRun(ctx context.Context, tok *runToken, cause error, msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != tok {
		return goerr.Wrap(errors.Join(model.ErrRunCancelled, cause), msg)
	}

	var err error
	if ctx.Err() != nil {
		err = goerr.Wrap(errors.Join(model.ErrRunCancelled, cause), msg)
	} else {
		err = goerr.Wrap(errors.Join(model.ErrRunFailed, cause), msg)
	}

	tok.invalidate()
	o.token = nil
	o.comic = nil
	o.selected = false
	o.lastErr = err
	o.state = StateIdle
	o.publishLocked(Event{Kind: EventRunFailed, Err: err})

	logging.From(ctx).Warn("comic generation failed", logging.ErrAttr(err))
	return err
}

func (o *Orchestrator) runPanels(tok *runToken, ids []model.PanelID) {
	defer o.finishRun(tok)

	if o.concurrency <= 1 {
		for _, id := range ids {
			if tok.ctx.Err() != nil {
				return
			}
			o.generatePanel(tok, id)
		}
		return
	}

	var eg errgroup.Group
	eg.SetLimit(o.concurrency)
	for _, id := range ids {
		eg.Go(func() error {
			if tok.ctx.Err() != nil {
				return nil
			}
			o.generatePanel(tok, id)
			return nil
		})
	}
	_ = eg.Wait()
}

// finishRun completes the run if its token is still current
func (o *Orchestrator) finishRun(tok *runToken) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer tok.settle()

	if o.token != tok || o.comic == nil {
		return
	}

	if o.comic.Settled() {
		counts := o.comic.CountByStatus()
		logging.From(tok.ctx).Info("panel generation finished",
			"comic_id", o.comic.ID,
			"loaded", counts[model.PanelStatusLoaded],
			"failed", counts[model.PanelStatusFailed])
		o.setStateLocked(StateComplete)
		o.captureLocked(tok.ctx)
	}
}

// fetchPanel requests one panel image with rate limiting and the per-panel timeout
func (o *Orchestrator) fetchPanel(ctx context.Context, prompt string, hint model.ModelHint) (*model.Image, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, goerr.Wrap(err, "rate limiter wait aborted")
		}
	}

	if o.panelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.panelTimeout)
		defer cancel()
	}

	img, err := o.client.GenerateImage(ctx, prompt, model.AspectRatioPanel, hint)
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, goerr.New("image client returned no data")
	}
	return img, nil
}

// panelRequest reads what is needed to fetch a pending panel of the current run
func (o *Orchestrator) panelRequest(tok *runToken, id model.PanelID) (string, model.ModelHint, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != tok || o.comic == nil {
		return "", "", false
	}
	p := o.comic.Panel(id)
	if p == nil || p.Status != model.PanelStatusPending {
		return "", "", false
	}
	return p.GenerationPrompt, p.ModelHint, true
}

func (o *Orchestrator) generatePanel(tok *runToken, id model.PanelID) {
	prompt, hint, ok := o.panelRequest(tok, id)
	if !ok {
		return
	}

	img, err := o.fetchPanel(tok.ctx, prompt, hint)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyPanelLocked(tok, id, img, err)
}

// applyPanelLocked resolves a pending panel. It returns false when the result belongs
// to a run that is no longer current.
func (o *Orchestrator) applyPanelLocked(tok *runToken, id model.PanelID, img *model.Image, fetchErr error) bool {
	logger := logging.From(tok.ctx)

	if o.token != tok || o.comic == nil {
		logger.Debug("discarding panel result of cancelled run", "panel_id", id)
		return false
	}

	p := o.comic.Panel(id)
	if p == nil || p.Status != model.PanelStatusPending {
		return true
	}

	if fetchErr != nil {
		err := goerr.Wrap(errors.Join(model.ErrPanelGeneration, fetchErr), "panel image failed",
			goerr.V("comic_id", o.comic.ID),
			goerr.V("panel_id", id))
		logger.Warn("panel image failed", logging.ErrAttr(err))

		p.Status = model.PanelStatusFailed
		o.publishLocked(Event{Kind: EventPanelUpdated, PanelID: id, Status: p.Status, Err: err})
		return true
	}

	p.Image = img.Data
	p.MIMEType = img.MIMEType
	p.Status = model.PanelStatusLoaded
	logger.Debug("panel image loaded", "comic_id", o.comic.ID, "panel_id", id, "size", len(img.Data))
	o.publishLocked(Event{Kind: EventPanelUpdated, PanelID: id, Status: p.Status})
	return true
}

// RetryPanel regenerates a failed panel with its stored prompt and blocks until it
// settles. Panels in any other status are left untouched and their status returned.
// A Reset or newer run abandons the retry with ErrRunCancelled.
func (o *Orchestrator) RetryPanel(ctx context.Context, id model.PanelID) (model.PanelStatus, error) {
	o.mu.Lock()
	if o.comic == nil || o.token == nil {
		o.mu.Unlock()
		return "", goerr.Wrap(model.ErrNotFound, "no comic is displayed")
	}
	p := o.comic.Panel(id)
	if p == nil {
		o.mu.Unlock()
		return "", goerr.Wrap(model.ErrNotFound, "panel not found", goerr.V("panel_id", id))
	}
	if p.Status.Effective() != model.PanelStatusFailed {
		status := p.Status.Effective()
		o.mu.Unlock()
		return status, nil
	}

	tok := o.token
	prompt, hint := p.GenerationPrompt, p.ModelHint
	p.Status = model.PanelStatusPending
	o.setStateLocked(StatePanelsInFlight)
	o.publishLocked(Event{Kind: EventPanelUpdated, PanelID: id, Status: p.Status})
	o.mu.Unlock()

	logging.From(ctx).Info("retrying panel", "panel_id", id)

	callCtx, done := tok.bind(ctx)
	img, err := o.fetchPanel(callCtx, prompt, hint)
	done()

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.applyPanelLocked(tok, id, img, err) {
		return "", goerr.Wrap(model.ErrRunCancelled, "retry abandoned", goerr.V("panel_id", id))
	}

	status := o.comic.Panel(id).Status
	if o.comic.Settled() {
		o.setStateLocked(StateComplete)
		o.captureLocked(ctx)
	}
	return status, nil
}

// captureLocked records the displayed comic when every panel is loaded
func (o *Orchestrator) captureLocked(ctx context.Context) {
	if o.history == nil || o.comic == nil || !o.selected || !o.comic.AllLoaded() {
		return
	}
	if o.history.Contains(o.comic.ID) {
		return
	}

	logger := logging.From(ctx)

	if o.policy != nil {
		decision, err := o.policy.EvaluateCapture(ctx, o.comic.Clone())
		switch {
		case err != nil:
			logger.Warn("capture policy failed, recording anyway", logging.ErrAttr(err), "comic_id", o.comic.ID)
		case !decision.Allow:
			logger.Info("history capture vetoed by policy", "comic_id", o.comic.ID, "reason", decision.Reason)
			return
		}
	}

	if o.history.Record(ctx, model.NewHistoryEntry(o.comic)) {
		logger.Info("comic recorded in history", "comic_id", o.comic.ID, "title", o.comic.Title)
		o.publishLocked(Event{Kind: EventCaptured})
	}
}
