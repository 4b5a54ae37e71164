package resize

import (
	"sync"

	"starwatch-hud/common"
)

// Surface представляет область отрисовки, ширину которой можно наблюдать
type Surface interface {
	// ContentWidth возвращает текущую ширину области
	ContentWidth() float64
	// OnResize регистрирует обработчик изменения ширины и возвращает функцию снятия
	OnResize(fn func(width float64)) (release func())
}

// Observe сообщает размеры области сразу и при каждом изменении.
// Высота всегда выводится из ширины по пропорциям кадра сенсора 1280×720.
// После вызова stop обработчик снимается и emit больше не вызывается
func Observe(surface Surface, emit func(common.Dimensions)) (stop func()) {
	var (
		mu      sync.Mutex
		stopped bool
		last    common.Dimensions
		emitted bool
	)

	report := func(width float64) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		dims := common.DimensionsForWidth(width)
		if emitted && dims == last {
			return
		}
		last, emitted = dims, true
		emit(dims)
	}

	release := surface.OnResize(report)
	report(surface.ContentWidth())

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			release()
		})
	}
}
