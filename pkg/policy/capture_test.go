package policy_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/policy"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/m-mizutani/gt"
)

func testComic(panels int) *model.Comic {
	c := &model.Comic{
		ID:        "comic_test",
		Title:     "Midnight Run",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for i := 1; i <= panels; i++ {
		c.Panels = append(c.Panels, &model.Panel{
			ID:        model.PanelID(i),
			Image:     []byte("x"),
			Character: "Kai",
			Dialogue:  "go",
			Status:    model.PanelStatusLoaded,
		})
	}
	return c
}

func writePolicy(t *testing.T, src string) string {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "capture.rego"), []byte(src), 0644))
	return dir
}

func TestCaptureWithoutPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := policy.NewCapture(ctx, t.TempDir())
	gt.NoError(t, err)

	d, err := p.EvaluateCapture(ctx, testComic(3))
	gt.NoError(t, err)
	gt.True(t, d.Allow)
}

func TestCapturePolicy(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package capture

default allow := true

allow := false if {
	input.panel_count < 15
}

reason := "comic is shorter than 15 panels" if {
	input.panel_count < 15
}
`)

	p, err := policy.NewCapture(ctx, dir)
	gt.NoError(t, err)

	t.Run("short comic is vetoed", func(t *testing.T) {
		d, err := p.EvaluateCapture(ctx, testComic(3))
		gt.NoError(t, err)
		gt.False(t, d.Allow)
		gt.Equal(t, d.Reason, "comic is shorter than 15 panels")
	})

	t.Run("full comic is allowed", func(t *testing.T) {
		d, err := p.EvaluateCapture(ctx, testComic(15))
		gt.NoError(t, err)
		gt.True(t, d.Allow)
		gt.Equal(t, d.Reason, "")
	})
}

func TestCapturePolicyInspectsPanels(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package capture

allow := false if {
	some p in input.panels
	p.character == "Villain"
}
`)

	p, err := policy.NewCapture(ctx, dir)
	gt.NoError(t, err)

	c := testComic(2)
	d, err := p.EvaluateCapture(ctx, c)
	gt.NoError(t, err)
	gt.True(t, d.Allow).Describe("allow is undefined, so the comic is captured")

	c.Panels[1].Character = "Villain"
	d, err = p.EvaluateCapture(ctx, c)
	gt.NoError(t, err)
	gt.False(t, d.Allow)
}

func TestCapturePolicyInvalidResult(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package capture

allow := "yes"
`)

	p, err := policy.NewCapture(ctx, dir)
	gt.NoError(t, err)

	_, err = p.EvaluateCapture(ctx, testComic(1))
	gt.Error(t, err)
}

func TestCapturePolicySyntaxError(t *testing.T) {
	dir := writePolicy(t, `package capture

allow := if {
`)
	_, err := policy.NewCapture(context.Background(), dir)
	gt.Error(t, err)
}

func TestCapturePolicyPrintGoesToLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logging.With(context.Background(), logging.New("debug", buf))
	dir := writePolicy(t, `package capture

allow if {
	print("checking", input.title)
}
`)

	p, err := policy.NewCapture(ctx, dir)
	gt.NoError(t, err)

	d, err := p.EvaluateCapture(ctx, testComic(1))
	gt.NoError(t, err)
	gt.True(t, d.Allow)
	gt.S(t, buf.String()).Contains("rego print")
	gt.S(t, buf.String()).Contains("Midnight Run")
}
