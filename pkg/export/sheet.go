package export

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const captionHeight = 20

// SheetOptions controls the layout of a comic page
type SheetOptions struct {
	Columns    int
	CellSize   int
	Gutter     int
	Captions   bool
	Background color.Color
}

func DefaultSheetOptions() SheetOptions {
	return SheetOptions{
		Columns:    3,
		CellSize:   512,
		Gutter:     16,
		Captions:   true,
		Background: color.White,
	}
}

func (o SheetOptions) normalized() SheetOptions {
	def := DefaultSheetOptions()
	if o.Columns < 1 {
		o.Columns = def.Columns
	}
	if o.CellSize < 1 {
		o.CellSize = def.CellSize
	}
	if o.Gutter < 0 {
		o.Gutter = 0
	}
	if o.Background == nil {
		o.Background = def.Background
	}
	return o
}

var placeholderColor = color.RGBA{R: 0xd0, G: 0xd0, B: 0xd0, A: 0xff}

type sheetCell struct {
	data      []byte
	placement model.Placement
	caption   string
}

// WriteSheet renders the cover and every panel into one PNG page. Panels are drawn with
// their placement and clipped to their cell. Missing or undecodable images become a
// grey placeholder.
func WriteSheet(w io.Writer, c *model.Comic, opts SheetOptions) error {
	opts = opts.normalized()

	cells := make([]sheetCell, 0, len(c.Panels)+1)
	if len(c.CoverImage) > 0 {
		cells = append(cells, sheetCell{data: c.CoverImage, placement: model.IdentityPlacement(), caption: c.Title})
	}
	for _, p := range c.Panels {
		caption := p.Dialogue
		if p.Character != "" {
			caption = p.Character + ": " + p.Dialogue
		}
		cells = append(cells, sheetCell{data: p.Image, placement: p.Placement, caption: caption})
	}
	if len(cells) == 0 {
		return goerr.Wrap(model.ErrValidation, "comic has nothing to render", goerr.V("comic_id", c.ID))
	}

	cellH := opts.CellSize
	if opts.Captions {
		cellH += captionHeight
	}
	cols := min(opts.Columns, len(cells))
	rows := (len(cells) + opts.Columns - 1) / opts.Columns
	width := cols*opts.CellSize + (cols+1)*opts.Gutter
	height := rows*cellH + (rows+1)*opts.Gutter

	page := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(page, page.Bounds(), image.NewUniform(opts.Background), image.Point{}, xdraw.Src)

	for i, cell := range cells {
		col, row := i%opts.Columns, i/opts.Columns
		x0 := opts.Gutter + col*(opts.CellSize+opts.Gutter)
		y0 := opts.Gutter + row*(cellH+opts.Gutter)
		frame := image.Rect(x0, y0, x0+opts.CellSize, y0+opts.CellSize)

		drawCell(page, frame, cell)
		if opts.Captions && cell.caption != "" {
			drawCaption(page, image.Rect(x0, frame.Max.Y, x0+opts.CellSize, frame.Max.Y+captionHeight), cell.caption)
		}
	}

	if err := png.Encode(w, page); err != nil {
		return goerr.Wrap(err, "failed to encode sheet", goerr.V("comic_id", c.ID))
	}
	return nil
}

func drawCell(page *image.RGBA, frame image.Rectangle, cell sheetCell) {
	dst, ok := page.SubImage(frame).(*image.RGBA)
	if !ok {
		return
	}

	src, _, err := image.Decode(bytes.NewReader(cell.data))
	if len(cell.data) == 0 || err != nil {
		xdraw.Draw(dst, frame, image.NewUniform(placeholderColor), image.Point{}, xdraw.Src)
		return
	}

	xdraw.CatmullRom.Transform(dst, placementTransform(frame, src.Bounds(), cell.placement), src, src.Bounds(), xdraw.Over, nil)
}

// placementTransform maps the source image onto the frame. The image first covers the
// frame, then it is scaled and rotated around its center and shifted by the offset.
func placementTransform(frame, src image.Rectangle, p model.Placement) f64.Aff3 {
	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	sw, sh := float64(src.Dx()), float64(src.Dy())
	fw, fh := float64(frame.Dx()), float64(frame.Dy())
	k := math.Max(fw/sw, fh/sh) * scale

	theta := p.Rotation * math.Pi / 180
	sin, cos := math.Sincos(theta)

	scx := float64(src.Min.X) + sw/2
	scy := float64(src.Min.Y) + sh/2
	cx := float64(frame.Min.X) + fw/2 + p.OffsetX
	cy := float64(frame.Min.Y) + fh/2 + p.OffsetY

	a, b := k*cos, -k*sin
	d, e := k*sin, k*cos
	return f64.Aff3{
		a, b, cx - (a*scx + b*scy),
		d, e, cy - (d*scx + e*scy),
	}
}

func drawCaption(page *image.RGBA, area image.Rectangle, text string) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  page,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}

	maxWidth := fixed.I(area.Dx() - 4)
	runes := []rune(text)
	for len(runes) > 0 && drawer.MeasureString(string(runes)) > maxWidth {
		runes = runes[:len(runes)-1]
	}
	if len(runes) < len([]rune(text)) && len(runes) > 3 {
		runes = append(runes[:len(runes)-3], []rune("...")...)
	}

	drawer.Dot = fixed.P(area.Min.X+2, area.Min.Y+face.Ascent+3)
	drawer.DrawString(string(runes))
}
