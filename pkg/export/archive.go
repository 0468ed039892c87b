package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
)

var whitespace = regexp.MustCompile(`\s+`)

// FileName derives a download name from the comic title, e.g. "Midnight_Run-frames.zip"
func FileName(title, suffix string) string {
	name := whitespace.ReplaceAllString(strings.TrimSpace(title), "_")
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "comic"
	}
	return name + "-" + suffix
}

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

type storyPanel struct {
	ID        model.PanelID   `json:"id"`
	Character string          `json:"character"`
	Dialogue  string          `json:"dialogue"`
	Layout    string          `json:"layout,omitempty"`
	Placement model.Placement `json:"placement"`
	File      string          `json:"file,omitempty"`
}

type storyDocument struct {
	ID     model.ComicID `json:"id"`
	Title  string        `json:"title"`
	Cover  string        `json:"cover,omitempty"`
	Panels []storyPanel  `json:"panels"`
}

// WriteArchive writes a zip with the cover, one file per panel image and story.json.
// Panels without an image are listed in story.json only.
func WriteArchive(w io.Writer, c *model.Comic) error {
	zw := zip.NewWriter(w)

	doc := storyDocument{
		ID:     c.ID,
		Title:  c.Title,
		Panels: make([]storyPanel, 0, len(c.Panels)),
	}

	if len(c.CoverImage) > 0 {
		doc.Cover = "cover" + extension(c.CoverMIMEType)
		if err := writeEntry(zw, doc.Cover, c.CoverImage); err != nil {
			return err
		}
	}

	for _, p := range c.Panels {
		sp := storyPanel{
			ID:        p.ID,
			Character: p.Character,
			Dialogue:  p.Dialogue,
			Layout:    p.LayoutHint,
			Placement: p.Placement,
		}
		if len(p.Image) > 0 {
			sp.File = fmt.Sprintf("panel_%d%s", p.ID, extension(p.MIMEType))
			if err := writeEntry(zw, sp.File, p.Image); err != nil {
				return err
			}
		}
		doc.Panels = append(doc.Panels, sp)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal story document")
	}
	if err := writeEntry(zw, "story.json", raw); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize archive")
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return goerr.Wrap(err, "failed to create archive entry", goerr.V("name", name))
	}
	if _, err := fw.Write(data); err != nil {
		return goerr.Wrap(err, "failed to write archive entry", goerr.V("name", name))
	}
	return nil
}
