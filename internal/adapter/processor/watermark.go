package processor

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/h2non/bimg"
)

//go:embed watermark.svg.tmpl
var defaultTemplate []byte

var _ port.Renderer = (*Watermarker)(nil)

// DefaultTemplate returns a copy of the embedded SVG overlay template.
func DefaultTemplate() []byte {
	return bytes.Clone(defaultTemplate)
}

// overlayData is what an overlay template sees. Label is the only text
// substitution; the geometry is computed from the source image.
type overlayData struct {
	Width    int
	Height   int
	X        int
	Y        int
	FontSize int
	Label    string
}

// Watermarker burns a text label into the bottom-center area of an image.
type Watermarker struct {
	tmpl *template.Template
}

func NewWatermarker(overlayTemplate []byte) (*Watermarker, error) {
	if len(bytes.TrimSpace(overlayTemplate)) == 0 {
		return nil, errors.New("overlay template is empty")
	}
	tmpl, err := template.New("overlay").Option("missingkey=error").Parse(string(overlayTemplate))
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay template: %w", err)
	}
	return &Watermarker{tmpl: tmpl}, nil
}

func (w *Watermarker) Render(ctx context.Context, file []byte, label string) ([]byte, error) {
	const op = "Watermarker.Render"
	log := slog.With("op", op)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: label is empty", domain.ErrRender)
	}

	img := bimg.NewImage(file)
	size, err := img.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image size: %w", domain.ErrRender, err)
	}

	log.Debug("rendering watermark", "width", size.Width, "height", size.Height)

	svg, err := w.overlay(size.Width, size.Height, label)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRender, err)
	}

	overlay, err := bimg.NewImage(svg).Convert(bimg.PNG)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to rasterise overlay: %w", domain.ErrRender, err)
	}

	out, err := img.Process(bimg.Options{
		WatermarkImage: bimg.WatermarkImage{
			Left:    0,
			Top:     0,
			Buf:     overlay,
			Opacity: 1,
		},
		Quality: domain.WatermarkQuality,
		Type:    bimg.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to composite overlay: %w", domain.ErrRender, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// overlay executes the template for an image of the given size.
func (w *Watermarker) overlay(width, height int, label string) ([]byte, error) {
	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(label)); err != nil {
		return nil, fmt.Errorf("failed to escape label: %w", err)
	}

	data := overlayData{
		Width:    width,
		Height:   height,
		X:        width / 2,
		FontSize: fontSize(width),
		Label:    escaped.String(),
	}
	data.Y = labelBaseline(height, data.FontSize)

	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute overlay template: %w", err)
	}
	return buf.Bytes(), nil
}

func fontSize(width int) int {
	return max(12, width/20)
}

// labelBaseline keeps the label inside images shorter than the bottom margin.
func labelBaseline(height, fontSize int) int {
	y := height - domain.WatermarkBottomMargin
	if y < fontSize {
		y = height * 9 / 10
	}
	return max(y, min(fontSize, height))
}
