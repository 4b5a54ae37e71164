package overlay

import (
	"bytes"
	"fmt"

	svg "github.com/ajstarks/svgo/float"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"starwatch-hud/common"
)

const textStyle = "font-family:'Space Mono',monospace;font-size:12px;font-weight:bold"

// SVGCanvas рисует оверлей в отдельный SVG документ
type SVGCanvas struct {
	buf   bytes.Buffer
	doc   *svg.SVG
	face  font.Face
	ended bool
}

// NewSVGCanvas создает SVG поверхность. Ширина текста измеряется моноширинным шрифтом 7×13
func NewSVGCanvas() *SVGCanvas {
	c := &SVGCanvas{face: basicfont.Face7x13}
	c.doc = svg.New(&c.buf)
	return c
}

// Clear начинает новый документ, предыдущее содержимое отбрасывается
func (c *SVGCanvas) Clear(width, height float64) {
	c.buf.Reset()
	c.ended = false
	c.doc.Start(width, height)
}

func (c *SVGCanvas) Line(x1, y1, x2, y2 float64, color string, lineWidth float64) {
	c.doc.Line(x1, y1, x2, y2, fmt.Sprintf("stroke:%s;stroke-width:%g", color, lineWidth))
}

func (c *SVGCanvas) StrokeRect(r Rect, color string, lineWidth float64) {
	c.doc.Rect(r.X, r.Y, r.Width, r.Height, fmt.Sprintf("fill:none;stroke:%s;stroke-width:%g", color, lineWidth))
}

func (c *SVGCanvas) FillRect(r Rect, color string) {
	c.doc.Rect(r.X, r.Y, r.Width, r.Height, "fill:"+color)
}

func (c *SVGCanvas) Text(x, y float64, text, color string) {
	c.doc.Text(x, y, text, textStyle+";fill:"+color)
}

func (c *SVGCanvas) MeasureText(text string) float64 {
	return float64(font.MeasureString(c.face, text).Round())
}

// Bytes завершает документ и возвращает его содержимое
func (c *SVGCanvas) Bytes() []byte {
	if !c.ended {
		c.doc.End()
		c.ended = true
	}
	return append([]byte(nil), c.buf.Bytes()...)
}

// RenderSVG рисует оверлей камеры и возвращает готовый SVG документ
func RenderSVG(cameraID string, packet *common.TelemetryPacket, dims common.Dimensions) []byte {
	c := NewSVGCanvas()
	Render(c, cameraID, packet, dims)
	return c.Bytes()
}
