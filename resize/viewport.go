package resize

import (
	"math"
	"sync"
)

const (
	// DefaultWidth - начальная ширина области до первого отчета зрителя
	DefaultWidth = 320
	// MaxWidth - наибольшая ширина области, которую может запросить зритель
	MaxWidth = 8192
)

// SanitizeWidth проверяет ширину, присланную зрителем.
// Неположительные и нечисловые значения отклоняются, слишком большие ограничиваются MaxWidth
func SanitizeWidth(width float64) (float64, bool) {
	if math.IsNaN(width) || math.IsInf(width, 0) || width <= 0 {
		return 0, false
	}
	return math.Min(width, MaxWidth), true
}

// Viewport - область отрисовки, ширину которой сообщает удаленный зритель
type Viewport struct {
	mu       sync.Mutex
	width    float64
	nextID   int
	handlers map[int]func(float64)
}

// NewViewport создает область заданной ширины. Некорректная ширина заменяется DefaultWidth
func NewViewport(width float64) *Viewport {
	width, ok := SanitizeWidth(width)
	if !ok {
		width = DefaultWidth
	}
	return &Viewport{
		width:    width,
		handlers: make(map[int]func(float64)),
	}
}

// ContentWidth возвращает текущую ширину
func (v *Viewport) ContentWidth() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width
}

// SetWidth меняет ширину и уведомляет наблюдателей.
// Некорректные значения игнорируются, ширина больше MaxWidth ограничивается
func (v *Viewport) SetWidth(width float64) {
	width, ok := SanitizeWidth(width)
	if !ok {
		return
	}

	v.mu.Lock()
	if width == v.width {
		v.mu.Unlock()
		return
	}
	v.width = width
	handlers := make([]func(float64), 0, len(v.handlers))
	for _, fn := range v.handlers {
		handlers = append(handlers, fn)
	}
	v.mu.Unlock()

	for _, fn := range handlers {
		fn(width)
	}
}

// OnResize регистрирует обработчик изменения ширины
func (v *Viewport) OnResize(fn func(width float64)) (release func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.handlers[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.handlers, id)
		v.mu.Unlock()
	}
}

// Observers возвращает число зарегистрированных обработчиков
func (v *Viewport) Observers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.handlers)
}
