package comic

import (
	"context"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
)

// Open displays a comic from history. Any run in flight is abandoned
func (o *Orchestrator) Open(ctx context.Context, entry *model.HistoryEntry) (*model.Comic, error) {
	if entry == nil || entry.ID == "" {
		return nil, goerr.Wrap(model.ErrNotFound, "history entry is empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.resetLocked()
	tok := newRunToken(ctx)
	tok.settle()
	o.token = tok
	o.comic = entry.Comic()
	o.selected = true
	o.state = StateComplete
	o.publishLocked(Event{Kind: EventComicReady})

	logging.From(ctx).Info("comic opened from history", "comic_id", entry.ID, "panels", len(entry.Panels))
	return o.comic.Clone(), nil
}

// editablePanelLocked returns the panel with id of the displayed comic
func (o *Orchestrator) editablePanelLocked(id model.PanelID) (*model.Panel, error) {
	if o.comic == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "no comic is displayed")
	}
	p := o.comic.Panel(id)
	if p == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "panel not found", goerr.V("panel_id", id))
	}
	return p, nil
}

// syncHistoryLocked writes the edited panels through to history when the displayed
// comic is recorded and still selected
func (o *Orchestrator) syncHistoryLocked(ctx context.Context) {
	if o.history == nil || o.comic == nil || !o.selected {
		return
	}
	if !o.history.Contains(o.comic.ID) {
		return
	}
	if o.history.Update(ctx, o.comic.ID, model.NewHistoryPanels(o.comic.Panels)) {
		logging.From(ctx).Debug("history entry updated", "comic_id", o.comic.ID)
	}
}

// UpdatePanelImage replaces the image of a loaded panel
func (o *Orchestrator) UpdatePanelImage(ctx context.Context, id model.PanelID, img model.Image) error {
	if len(img.Data) == 0 {
		return goerr.Wrap(model.ErrValidation, "image is empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.editablePanelLocked(id)
	if err != nil {
		return err
	}
	return o.replaceImageLocked(ctx, p, img)
}

func (o *Orchestrator) replaceImageLocked(ctx context.Context, p *model.Panel, img model.Image) error {
	if p.Status.Effective() != model.PanelStatusLoaded {
		return goerr.Wrap(model.ErrValidation, "only loaded panels can be edited",
			goerr.V("panel_id", p.ID),
			goerr.V("status", p.Status))
	}

	p.Image = append([]byte(nil), img.Data...)
	p.MIMEType = img.MIMEType
	o.publishLocked(Event{Kind: EventPanelUpdated, PanelID: p.ID, Status: p.Status.Effective()})
	o.syncHistoryLocked(ctx)
	return nil
}

// UpdatePanelPlacement changes how a panel image is framed
func (o *Orchestrator) UpdatePanelPlacement(ctx context.Context, id model.PanelID, placement model.Placement) error {
	if placement.Scale <= 0 || math.IsNaN(placement.Scale) || math.IsInf(placement.Scale, 0) {
		return goerr.Wrap(model.ErrValidation, "placement scale must be positive", goerr.V("scale", placement.Scale))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.editablePanelLocked(id)
	if err != nil {
		return err
	}

	p.Placement = placement
	o.publishLocked(Event{Kind: EventPanelUpdated, PanelID: id, Status: p.Status.Effective()})
	o.syncHistoryLocked(ctx)
	return nil
}

// EditPanel asks the generative client to modify a loaded panel image
func (o *Orchestrator) EditPanel(ctx context.Context, id model.PanelID, instruction string) error {
	if strings.TrimSpace(instruction) == "" {
		return goerr.Wrap(model.ErrValidation, "edit instruction is required")
	}

	o.mu.Lock()
	p, err := o.editablePanelLocked(id)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if p.Status.Effective() != model.PanelStatusLoaded || len(p.Image) == 0 {
		o.mu.Unlock()
		return goerr.Wrap(model.ErrValidation, "only loaded panels can be edited", goerr.V("panel_id", id))
	}
	tok := o.token
	comicID := o.comic.ID
	base := model.ReferenceImage{Data: append([]byte(nil), p.Image...), MIMEType: p.MIMEType}
	o.mu.Unlock()

	logging.From(ctx).Info("editing panel", "comic_id", comicID, "panel_id", id)

	callCtx, done := tok.bind(ctx)
	img, err := o.client.EditImage(callCtx, base, instruction)
	done()
	if err != nil {
		return goerr.Wrap(err, "failed to edit panel image", goerr.V("panel_id", id))
	}
	if img == nil || len(img.Data) == 0 {
		return goerr.New("image client returned no data", goerr.V("panel_id", id))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != tok || o.comic == nil || o.comic.ID != comicID {
		return goerr.Wrap(model.ErrRunCancelled, "edited comic is no longer displayed", goerr.V("panel_id", id))
	}
	p, err = o.editablePanelLocked(id)
	if err != nil {
		return err
	}
	return o.replaceImageLocked(ctx, p, *img)
}

// DeleteHistory removes a comic from history. When it is the displayed comic, the view
// keeps showing it but it is no longer synced or captured again.
func (o *Orchestrator) DeleteHistory(ctx context.Context, id model.ComicID) bool {
	if o.history == nil {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	deleted := o.history.Delete(ctx, id)

	if o.comic != nil && o.comic.ID == id && o.selected {
		o.selected = false
		o.publishLocked(Event{Kind: EventDeselected})
	}

	logging.From(ctx).Info("history entry deleted", "comic_id", id, "found", deleted)
	return deleted
}
