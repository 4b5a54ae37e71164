package dashboard

import (
	"sync"

	"starwatch-hud/common"
	"starwatch-hud/telemetry"
)

// Source - поток нормализованных пакетов, например *telemetry.Client
type Source interface {
	Subscribe(listener telemetry.Listener) (unsubscribe func())
}

// Store хранит последний пакет каждой камеры и флаг готовности телеметрии.
// Наблюдатели камеры уведомляются только о пакетах своей камеры
type Store struct {
	mu       sync.RWMutex
	latest   map[string]*common.TelemetryPacket
	ready    bool
	watchers map[string]map[int]func(*common.TelemetryPacket)
	nextID   int
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		latest:   make(map[string]*common.TelemetryPacket),
		watchers: make(map[string]map[int]func(*common.TelemetryPacket)),
	}
}

// Attach подписывает хранилище на источник и возвращает функцию отписки
func (s *Store) Attach(source Source) (detach func()) {
	return source.Subscribe(s.Apply)
}

// Apply сохраняет пакет как последний для его камеры
func (s *Store) Apply(packet *common.TelemetryPacket) {
	if packet == nil {
		return
	}

	s.mu.Lock()
	s.ready = true
	s.latest[packet.CameraID] = packet
	watchers := make([]func(*common.TelemetryPacket), 0, len(s.watchers[packet.CameraID]))
	for _, fn := range s.watchers[packet.CameraID] {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(packet)
	}
}

// Latest возвращает последний пакет камеры или nil
func (s *Store) Latest(cameraID string) *common.TelemetryPacket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[cameraID]
}

// Ready сообщает, пришел ли хотя бы один пакет
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Watch регистрирует наблюдателя пакетов одной камеры
func (s *Store) Watch(cameraID string, fn func(*common.TelemetryPacket)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.watchers[cameraID] == nil {
		s.watchers[cameraID] = make(map[int]func(*common.TelemetryPacket))
	}
	s.watchers[cameraID][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[cameraID], id)
			if len(s.watchers[cameraID]) == 0 {
				delete(s.watchers, cameraID)
			}
			s.mu.Unlock()
		})
	}
}
