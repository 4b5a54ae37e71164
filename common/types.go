package common

import "time"

const (
	// FrameWidth и FrameHeight задают фиксированный кадр сенсора (1280×720),
	// в координатах которого приходят рамки детекций
	FrameWidth  = 1280
	FrameHeight = 720

	// ReconnectDelay - фиксированная пауза перед повторным подключением
	ReconnectDelay = 3000 * time.Millisecond

	DefaultObjectID    = "untracked"
	DefaultObjectLabel = "object"
)

// TelemetryObject представляет одну отслеживаемую детекцию
type TelemetryObject struct {
	ID         string   `json:"id"`           // Идентификатор трека, "untracked" если трека нет
	Label      string   `json:"label"`        // Класс объекта
	Confidence float64  `json:"confidence"`   // Уверенность, не ограничивается [0,1]
	X          float64  `json:"x"`            // Рамка в координатах сенсора, начало - левый верхний угол
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	VX         *float64 `json:"vx,omitempty"` // Скорость по X в единицах сенсора в секунду, nil - неизвестна
	VY         *float64 `json:"vy,omitempty"` // Скорость по Y
}

// Velocity возвращает компоненты скорости, подставляя 0 для неизвестных
func (o TelemetryObject) Velocity() (vx, vy float64) {
	if o.VX != nil {
		vx = *o.VX
	}
	if o.VY != nil {
		vy = *o.VY
	}
	return vx, vy
}

// TelemetryPacket представляет снимок детекций одной камеры в один момент.
// После нормализации пакет не изменяется
type TelemetryPacket struct {
	CameraID  string            `json:"cameraId"`
	Timestamp int64             `json:"timestamp"` // Unix время в миллисекундах
	Objects   []TelemetryObject `json:"objects"`
}

// Time возвращает метку времени пакета как time.Time
func (p *TelemetryPacket) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Dimensions представляет размер области отрисовки в пикселях экрана
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DimensionsForWidth возвращает размеры с сохранением пропорций кадра сенсора
func DimensionsForWidth(width float64) Dimensions {
	return Dimensions{
		Width:  width,
		Height: width * FrameHeight / FrameWidth,
	}
}
