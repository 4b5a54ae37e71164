package dashboard

import (
	"sync"

	"starwatch-hud/common"
	"starwatch-hud/overlay"
	"starwatch-hud/resize"
)

// View - оверлей одной камеры для одного зрителя.
// Перерисовывается только при смене ссылки на пакет или размеров области
type View struct {
	cameraID string
	onFrame  func(frame []byte)

	mu      sync.Mutex
	packet  *common.TelemetryPacket
	dims    common.Dimensions
	frame   []byte
	redraws int
}

// NewView создает оверлей камеры. onFrame вызывается с каждым новым SVG кадром
// под блокировкой View, поэтому не должен блокироваться или обращаться к View
func NewView(cameraID string, onFrame func(frame []byte)) *View {
	return &View{cameraID: cameraID, onFrame: onFrame}
}

// SetPacket обновляет пакет и перерисовывает оверлей при смене ссылки
func (v *View) SetPacket(packet *common.TelemetryPacket) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if packet == v.packet {
		return false
	}
	v.packet = packet
	return v.redrawLocked()
}

// seedPacket задает начальный пакет, если наблюдатель хранилища еще ничего не доставил
func (v *View) seedPacket(packet *common.TelemetryPacket) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if packet == nil || v.packet != nil {
		return false
	}
	v.packet = packet
	return v.redrawLocked()
}

// SetDimensions обновляет размеры области и перерисовывает оверлей при их изменении
func (v *View) SetDimensions(dims common.Dimensions) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if dims == v.dims {
		return false
	}
	v.dims = dims
	return v.redrawLocked()
}

func (v *View) redrawLocked() bool {
	if v.dims.Width <= 0 || v.dims.Height <= 0 {
		return false
	}
	v.frame = overlay.RenderSVG(v.cameraID, v.packet, v.dims)
	v.redraws++
	if v.onFrame != nil {
		v.onFrame(v.frame)
	}
	return true
}

// Frame возвращает последний отрисованный кадр
func (v *View) Frame() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame
}

// Redraws возвращает число перерисовок
func (v *View) Redraws() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.redraws
}

// OpenView связывает оверлей камеры с хранилищем и наблюдаемой областью.
// Возвращаемая функция снимает обе подписки
func (s *Store) OpenView(cameraID string, surface resize.Surface, onFrame func(frame []byte)) (*View, func()) {
	view := NewView(cameraID, onFrame)

	cancelWatch := s.Watch(cameraID, func(packet *common.TelemetryPacket) {
		view.SetPacket(packet)
	})
	// Пакет, пришедший после регистрации наблюдателя, новее снимка Latest
	view.seedPacket(s.Latest(cameraID))
	stopResize := resize.Observe(surface, func(dims common.Dimensions) {
		view.SetDimensions(dims)
	})

	var once sync.Once
	return view, func() {
		once.Do(func() {
			cancelWatch()
			stopResize()
		})
	}
}
