package overlay

// Rect представляет прямоугольник в координатах экрана
type Rect struct {
	X, Y, Width, Height float64
}

// Center возвращает центр прямоугольника
func (r Rect) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Canvas - векторная поверхность, на которую рисуется оверлей.
// Операции повторяют 2D контекст: координаты в пикселях экрана, начало слева сверху
type Canvas interface {
	// Clear стирает все содержимое и задает размер поверхности
	Clear(width, height float64)
	Line(x1, y1, x2, y2 float64, color string, lineWidth float64)
	StrokeRect(r Rect, color string, lineWidth float64)
	FillRect(r Rect, color string)
	Text(x, y float64, text, color string)
	// MeasureText возвращает ширину текста в пикселях шрифтом подписей
	MeasureText(text string) float64
}
