package dashboard

import "errors"

// ErrUnknownCamera возвращается для идентификатора вне реестра камер
var ErrUnknownCamera = errors.New("dashboard: unknown camera")

// Camera связывает идентификатор камеры с источником видео
type Camera struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// Cameras - упорядоченный реестр известных камер
type Cameras []Camera

// DefaultCameras возвращает реестр камер по умолчанию
func DefaultCameras() Cameras {
	return Cameras{
		{ID: "CAM-1", Source: "/videos/cam1.mp4"},
		{ID: "CAM-2", Source: "/videos/cam2.mp4"},
		{ID: "CAM-3", Source: "/videos/cam3.mp4"},
	}
}

// Known проверяет, есть ли камера в реестре
func (c Cameras) Known(id string) bool {
	for _, camera := range c {
		if camera.ID == id {
			return true
		}
	}
	return false
}

// Source возвращает источник видео камеры. Для неизвестной камеры - источник первой
func (c Cameras) Source(id string) string {
	for _, camera := range c {
		if camera.ID == id {
			return camera.Source
		}
	}
	if len(c) == 0 {
		return ""
	}
	return c[0].Source
}

// IDs возвращает идентификаторы камер в порядке реестра
func (c Cameras) IDs() []string {
	ids := make([]string, 0, len(c))
	for _, camera := range c {
		ids = append(ids, camera.ID)
	}
	return ids
}
