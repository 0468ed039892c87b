package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type ComicID string

// NewComicID generates a new unique ComicID
func NewComicID() ComicID {
	return ComicID("comic_" + uuid.New().String())
}

type PanelID int

type PanelStatus string

const (
	PanelStatusPending PanelStatus = "pending"
	PanelStatusLoaded  PanelStatus = "loaded"
	PanelStatusFailed  PanelStatus = "failed"
)

// Effective returns the status with the empty value read as loaded. Panels restored
// from history carry no status and have no pending work.
func (s PanelStatus) Effective() PanelStatus {
	if s == "" {
		return PanelStatusLoaded
	}
	return s
}

// Settled reports whether the panel has no pending work
func (s PanelStatus) Settled() bool {
	e := s.Effective()
	return e == PanelStatusLoaded || e == PanelStatusFailed
}

// Placement is the user-adjustable framing of a panel image
type Placement struct {
	OffsetX  float64 `json:"offset_x"`
	OffsetY  float64 `json:"offset_y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

func IdentityPlacement() Placement {
	return Placement{Scale: 1}
}

// Panel is one illustrated frame of a comic
type Panel struct {
	ID         PanelID
	Image      []byte
	MIMEType   string
	Dialogue   string
	Character  string
	LayoutHint string
	VoiceHint  string
	Placement  Placement
	Status     PanelStatus

	// Transient fields. They exist only while the panel may still be (re)generated and
	// are never persisted to history.
	GenerationPrompt string
	ModelHint        ModelHint
}

func (p *Panel) Clone() *Panel {
	if p == nil {
		return nil
	}
	c := *p
	c.Image = cloneBytes(p.Image)
	return &c
}

// Comic is the in-memory aggregate of a generated or reopened comic
type Comic struct {
	ID            ComicID
	Title         string
	CoverImage    []byte
	CoverMIMEType string
	Panels        []*Panel
	CreatedAt     time.Time
}

// NewComic builds a comic whose panels are all pending, ordered by ascending id
func NewComic(id ComicID, story *Story, cover *Image, now time.Time) *Comic {
	c := &Comic{
		ID:        id,
		Title:     story.Title,
		Panels:    make([]*Panel, 0, len(story.Panels)),
		CreatedAt: now,
	}
	if cover != nil {
		c.CoverImage = cloneBytes(cover.Data)
		c.CoverMIMEType = cover.MIMEType
	}

	for _, sp := range story.Panels {
		c.Panels = append(c.Panels, &Panel{
			ID:               PanelID(sp.Ordinal),
			Dialogue:         sp.Dialogue,
			Character:        sp.CharacterName,
			LayoutHint:       sp.LayoutHint,
			VoiceHint:        sp.VoiceHint,
			Placement:        IdentityPlacement(),
			Status:           PanelStatusPending,
			GenerationPrompt: sp.ImagePrompt,
			ModelHint:        sp.ModelHint,
		})
	}
	sort.SliceStable(c.Panels, func(i, j int) bool {
		return c.Panels[i].ID < c.Panels[j].ID
	})

	return c
}

// Panel returns the panel with the given id, or nil
func (c *Comic) Panel(id PanelID) *Panel {
	for _, p := range c.Panels {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Settled reports whether every panel is loaded or failed
func (c *Comic) Settled() bool {
	for _, p := range c.Panels {
		if !p.Status.Settled() {
			return false
		}
	}
	return true
}

// AllLoaded reports whether the comic has panels and every one of them is loaded
func (c *Comic) AllLoaded() bool {
	if len(c.Panels) == 0 {
		return false
	}
	for _, p := range c.Panels {
		if p.Status.Effective() != PanelStatusLoaded {
			return false
		}
	}
	return true
}

// CountByStatus counts panels per effective status
func (c *Comic) CountByStatus() map[PanelStatus]int {
	counts := make(map[PanelStatus]int, 3)
	for _, p := range c.Panels {
		counts[p.Status.Effective()]++
	}
	return counts
}

func (c *Comic) Clone() *Comic {
	if c == nil {
		return nil
	}
	out := *c
	out.CoverImage = cloneBytes(c.CoverImage)
	out.Panels = make([]*Panel, len(c.Panels))
	for i, p := range c.Panels {
		out.Panels[i] = p.Clone()
	}
	return &out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// CaptureDecision is the result of a history capture policy
type CaptureDecision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}
