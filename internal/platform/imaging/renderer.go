// Package imaging rasterizes composition canvases and outfit preview grids to PNG.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const (
	// MaxPreviewItems caps the number of pictures in a preview grid.
	MaxPreviewItems    = 4
	defaultPreviewSize = 220
	defaultPixelRatio  = 2
	previewPadding     = 6
)

var (
	canvasBackground  = color.NRGBA{R: 0xF7, G: 0xF5, B: 0xF2, A: 0xFF}
	previewBackground = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	badgeBackground   = color.NRGBA{R: 0x1F, G: 0x1F, B: 0x1F, A: 0xD0}
	badgeForeground   = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	selectionOutline  = color.NRGBA{R: 0x3B, G: 0x82, B: 0xF6, A: 0xFF}
)

// Options configures a Renderer.
type Options struct {
	PreviewSize int
	PixelRatio  int
	Logger      *zap.Logger
}

// Renderer draws wardrobe item pictures fetched through an ImageFetcher.
type Renderer struct {
	images      repositories.ImageFetcher
	previewSize int
	pixelRatio  int
	logger      *zap.Logger
}

var (
	_ repositories.Capturer        = (*Renderer)(nil)
	_ repositories.PreviewRenderer = (*Renderer)(nil)
)

// NewRenderer constructs a Renderer.
func NewRenderer(images repositories.ImageFetcher, opts Options) (*Renderer, error) {
	if images == nil {
		return nil, errors.New("imaging: image fetcher is required")
	}
	r := &Renderer{
		images:      images,
		previewSize: opts.PreviewSize,
		pixelRatio:  opts.PixelRatio,
		logger:      opts.Logger,
	}
	if r.previewSize <= 0 {
		r.previewSize = defaultPreviewSize
	}
	if r.pixelRatio <= 0 {
		r.pixelRatio = defaultPixelRatio
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

// Capture draws the snapshot layers back to front. Each item is fitted into a
// square of ItemSize scaled around its centre and the active item gets a
// selection outline. Items whose picture cannot be loaded are skipped; when
// nothing is drawn the result is nil.
func (r *Renderer) Capture(ctx context.Context, snapshot domain.CanvasSnapshot, token string) (*domain.Image, error) {
	width := snapshot.Canvas.Width
	height := snapshot.Canvas.Height
	if width <= 0 || height <= 0 || len(snapshot.Layers) == 0 {
		return nil, nil
	}
	itemSize := snapshot.ItemSize
	if itemSize <= 0 {
		itemSize = domain.DefaultItemSize
	}
	ratio := float64(r.pixelRatio)

	dst := image.NewNRGBA(image.Rect(0, 0, width*r.pixelRatio, height*r.pixelRatio))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(canvasBackground), image.Point{}, draw.Src)

	drawn := 0
	for _, layer := range snapshot.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, ok := r.load(ctx, layer.Item, token)
		if !ok {
			continue
		}
		scale := layer.Transform.Scale
		if scale <= 0 {
			scale = 1
		}
		side := itemSize * scale
		cx := layer.Transform.X + itemSize/2
		cy := layer.Transform.Y + itemSize/2
		box := image.Rect(
			int((cx-side/2)*ratio),
			int((cy-side/2)*ratio),
			int((cx+side/2)*ratio),
			int((cy+side/2)*ratio),
		)
		drawContained(dst, box, src)
		if layer.Item.ID == snapshot.ActiveItemID {
			drawOutline(dst, box, r.pixelRatio)
		}
		drawn++
	}
	if drawn == 0 {
		return nil, nil
	}
	return encodePNG(dst)
}

// RenderPreview draws up to MaxPreviewItems pictures in a 2x2 grid. Items
// beyond the grid are summarised by a "+N" badge in the bottom-right corner.
func (r *Renderer) RenderPreview(ctx context.Context, items []domain.WardrobeItem, token string) (*domain.Image, error) {
	previewable := PreviewItems(items)
	if len(previewable) == 0 {
		return nil, nil
	}
	extra := len(items) - len(previewable)

	size := r.previewSize
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(previewBackground), image.Point{}, draw.Src)

	cell := size / 2
	drawn := 0
	for i, item := range previewable {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, ok := r.load(ctx, item, token)
		if !ok {
			continue
		}
		col, row := i%2, i/2
		box := image.Rect(
			col*cell+previewPadding,
			row*cell+previewPadding,
			(col+1)*cell-previewPadding,
			(row+1)*cell-previewPadding,
		)
		drawContained(dst, box, src)
		drawn++
	}
	if drawn == 0 {
		return nil, nil
	}
	if extra > 0 {
		drawBadge(dst, "+"+strconv.Itoa(extra))
	}
	return encodePNG(dst)
}

// PreviewItems returns the first MaxPreviewItems items that have a picture.
func PreviewItems(items []domain.WardrobeItem) []domain.WardrobeItem {
	out := make([]domain.WardrobeItem, 0, MaxPreviewItems)
	for _, item := range items {
		if !item.HasImage() {
			continue
		}
		out = append(out, item)
		if len(out) == MaxPreviewItems {
			break
		}
	}
	return out
}

func (r *Renderer) load(ctx context.Context, item domain.WardrobeItem, token string) (image.Image, bool) {
	if !item.HasImage() {
		return nil, false
	}
	raw, err := r.images.Fetch(ctx, item.ImageURL, token)
	if err != nil {
		r.logger.Warn("skip item without loadable image", zap.String("itemId", item.ID), zap.Error(err))
		return nil, false
	}
	src, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		r.logger.Warn("skip item with undecodable image", zap.String("itemId", item.ID), zap.Error(err))
		return nil, false
	}
	return src, true
}

// drawContained scales src to fit inside box, keeping its aspect ratio and centring it.
func drawContained(dst draw.Image, box image.Rectangle, src image.Image) {
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 || box.Dx() <= 0 || box.Dy() <= 0 {
		return
	}
	w, h := box.Dx(), box.Dy()
	if sb.Dx()*h > sb.Dy()*w {
		h = sb.Dy() * w / sb.Dx()
	} else {
		w = sb.Dx() * h / sb.Dy()
	}
	if w == 0 || h == 0 {
		return
	}
	offX := box.Min.X + (box.Dx()-w)/2
	offY := box.Min.Y + (box.Dy()-h)/2
	target := image.Rect(offX, offY, offX+w, offY+h)
	draw.CatmullRom.Scale(dst, target, src, sb, draw.Over, nil)
}

func drawOutline(dst draw.Image, box image.Rectangle, width int) {
	box = box.Intersect(dst.Bounds())
	if box.Empty() {
		return
	}
	src := image.NewUniform(selectionOutline)
	edges := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+width),
		image.Rect(box.Min.X, box.Max.Y-width, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+width, box.Max.Y),
		image.Rect(box.Max.X-width, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, edge := range edges {
		draw.Draw(dst, edge, src, image.Point{}, draw.Src)
	}
}

func drawBadge(dst draw.Image, label string) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	b := dst.Bounds()
	badge := image.Rect(b.Max.X-textWidth-16, b.Max.Y-24, b.Max.X-4, b.Max.Y-4)
	draw.Draw(dst, badge, image.NewUniform(badgeBackground), image.Point{}, draw.Over)

	drawer := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(badgeForeground),
		Face: face,
		Dot:  fixed.P(badge.Min.X+6, badge.Max.Y-6),
	}
	drawer.DrawString(label)
}

func encodePNG(img image.Image) (*domain.Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	b := img.Bounds()
	return &domain.Image{
		Data:        buf.Bytes(),
		ContentType: "image/png",
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}
