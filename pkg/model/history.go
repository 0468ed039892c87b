package model

import (
	"time"
)

// HistoryEntry is the persisted projection of a completed comic
type HistoryEntry struct {
	ID            ComicID        `json:"id"`
	Title         string         `json:"title"`
	CoverImage    []byte         `json:"cover_image"`
	CoverMIMEType string         `json:"cover_mime_type,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Panels        []HistoryPanel `json:"panels"`
}

// HistoryPanel is a panel without the fields that only matter while generating.
// Images are embedded inline and encode as base64 in JSON.
type HistoryPanel struct {
	ID         PanelID   `json:"id"`
	Image      []byte    `json:"image"`
	MIMEType   string    `json:"mime_type,omitempty"`
	Dialogue   string    `json:"dialogue"`
	Character  string    `json:"character"`
	LayoutHint string    `json:"layout_hint"`
	VoiceHint  string    `json:"voice_hint,omitempty"`
	Placement  Placement `json:"placement"`
}

// NewHistoryEntry projects a comic into its persisted form
func NewHistoryEntry(c *Comic) *HistoryEntry {
	return &HistoryEntry{
		ID:            c.ID,
		Title:         c.Title,
		CoverImage:    cloneBytes(c.CoverImage),
		CoverMIMEType: c.CoverMIMEType,
		CreatedAt:     c.CreatedAt,
		Panels:        NewHistoryPanels(c.Panels),
	}
}

// NewHistoryPanels drops generation prompt, model hint and status from each panel
func NewHistoryPanels(panels []*Panel) []HistoryPanel {
	out := make([]HistoryPanel, len(panels))
	for i, p := range panels {
		out[i] = HistoryPanel{
			ID:         p.ID,
			Image:      cloneBytes(p.Image),
			MIMEType:   p.MIMEType,
			Dialogue:   p.Dialogue,
			Character:  p.Character,
			LayoutHint: p.LayoutHint,
			VoiceHint:  p.VoiceHint,
			Placement:  p.Placement,
		}
	}
	return out
}

// Comic restores the in-memory form. Every panel is loaded.
func (e *HistoryEntry) Comic() *Comic {
	c := &Comic{
		ID:            e.ID,
		Title:         e.Title,
		CoverImage:    cloneBytes(e.CoverImage),
		CoverMIMEType: e.CoverMIMEType,
		CreatedAt:     e.CreatedAt,
		Panels:        make([]*Panel, len(e.Panels)),
	}
	for i, p := range e.Panels {
		placement := p.Placement
		if placement.Scale == 0 {
			placement.Scale = 1
		}
		c.Panels[i] = &Panel{
			ID:         p.ID,
			Image:      cloneBytes(p.Image),
			MIMEType:   p.MIMEType,
			Dialogue:   p.Dialogue,
			Character:  p.Character,
			LayoutHint: p.LayoutHint,
			VoiceHint:  p.VoiceHint,
			Placement:  placement,
			Status:     PanelStatusLoaded,
		}
	}
	return c
}

func (e *HistoryEntry) Clone() *HistoryEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.CoverImage = cloneBytes(e.CoverImage)
	out.Panels = make([]HistoryPanel, len(e.Panels))
	for i, p := range e.Panels {
		p.Image = cloneBytes(p.Image)
		out.Panels[i] = p
	}
	return &out
}
