package overlay

import (
	"fmt"
	"math"
	"strconv"

	"starwatch-hud/common"
)

const (
	GridSpacing   = 40
	MinBoxSize    = 12
	VelocityScale = 12

	labelPadding     = 16
	labelChipX       = 8
	labelChipY       = 8
	labelChipHeight  = 22
	labelTextX       = 16
	labelTextY       = 23
	boxLineWidth     = 2
	gridLineWidth    = 0.5
	vectorLineWidth  = 1
	boxLabelOffsetX  = 4
	boxLabelOffsetY  = 6
	velocityOffsetXY = 6
)

// Цвета HUD
const (
	GridColor     = "rgba(45, 212, 255, 0.15)"
	ChipColor     = "rgba(0, 0, 0, 0.6)"
	AccentColor   = "#2dd4ff"
	BoxFillColor  = "rgba(45, 212, 255, 0.15)"
	LabelColor    = "#e0f2fe"
	VelocityColor = "#4ade80"
)

// Scale возвращает коэффициенты перевода координат сенсора в экранные
func Scale(dims common.Dimensions) (scaleX, scaleY float64) {
	return dims.Width / common.FrameWidth, dims.Height / common.FrameHeight
}

// MapBox переводит рамку объекта в экранные координаты.
// Сторона рамки не меньше MinBoxSize пикселей
func MapBox(obj common.TelemetryObject, scaleX, scaleY float64) Rect {
	return Rect{
		X:      obj.X * scaleX,
		Y:      obj.Y * scaleY,
		Width:  math.Max(MinBoxSize, obj.Width*scaleX),
		Height: math.Max(MinBoxSize, obj.Height*scaleY),
	}
}

// VelocityEnd возвращает конец вектора скорости, выходящего из центра рамки
func VelocityEnd(box Rect, obj common.TelemetryObject) (x, y float64) {
	cx, cy := box.Center()
	vx, vy := obj.Velocity()
	return cx + vx*VelocityScale, cy + vy*VelocityScale
}

// ObjectLabel формирует подпись "<класс> <уверенность>%".
// Половины округляются вверх: 12.5 дает 13, -2.5 дает -2
func ObjectLabel(obj common.TelemetryObject) string {
	percent := strconv.FormatFloat(math.Floor(obj.Confidence*100+0.5), 'f', 0, 64)
	return fmt.Sprintf("%s %s%%", obj.Label, percent)
}

// VelocityLabel формирует подпись вектора скорости с одним знаком после запятой
func VelocityLabel(obj common.TelemetryObject) string {
	vx, vy := obj.Velocity()
	return fmt.Sprintf("→ %s, %s", formatTenths(vx), formatTenths(vy))
}

// formatTenths форматирует число с одним знаком после запятой,
// округляя точные половины от нуля: 0.25 дает "0.3", -0.25 дает "-0.3".
// Точная половина десятой у float64 возможна только при нечетном v*4
func formatTenths(v float64) string {
	if v == 0 {
		return "0.0"
	}
	if q := v * 4; q == math.Trunc(q) && math.Mod(q, 2) != 0 {
		v = math.Round(v*10) / 10
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Render полностью перерисовывает оверлей камеры: сетка, метка камеры, рамки и векторы.
// packet может быть nil, тогда рисуются только сетка и метка
func Render(c Canvas, cameraID string, packet *common.TelemetryPacket, dims common.Dimensions) {
	width, height := dims.Width, dims.Height
	c.Clear(width, height)

	drawGrid(c, width, height)
	drawCameraLabel(c, cameraID)

	if packet == nil {
		return
	}

	scaleX, scaleY := Scale(dims)
	for _, obj := range packet.Objects {
		drawObject(c, obj, scaleX, scaleY)
	}
}

func drawGrid(c Canvas, width, height float64) {
	for x := 0.0; x < width; x += GridSpacing {
		c.Line(x, 0, x, height, GridColor, gridLineWidth)
	}
	for y := 0.0; y < height; y += GridSpacing {
		c.Line(0, y, width, y, GridColor, gridLineWidth)
	}
}

func drawCameraLabel(c Canvas, cameraID string) {
	chip := Rect{
		X:      labelChipX,
		Y:      labelChipY,
		Width:  c.MeasureText(cameraID) + labelPadding,
		Height: labelChipHeight,
	}
	c.FillRect(chip, ChipColor)
	c.Text(labelTextX, labelTextY, cameraID, AccentColor)
}

func drawObject(c Canvas, obj common.TelemetryObject, scaleX, scaleY float64) {
	box := MapBox(obj, scaleX, scaleY)

	c.StrokeRect(box, AccentColor, boxLineWidth)
	c.FillRect(box, BoxFillColor)
	c.Text(box.X+boxLabelOffsetX, box.Y-boxLabelOffsetY, ObjectLabel(obj), LabelColor)

	cx, cy := box.Center()
	ex, ey := VelocityEnd(box, obj)
	c.Line(cx, cy, ex, ey, VelocityColor, vectorLineWidth)
	c.Text(cx+velocityOffsetXY, cy-velocityOffsetXY, VelocityLabel(obj), VelocityColor)
}
