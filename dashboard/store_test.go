package dashboard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starwatch-hud/common"
	"starwatch-hud/resize"
	"starwatch-hud/telemetry"
)

// fakeSource раздает пакеты вручную
type fakeSource struct {
	mu        sync.Mutex
	listeners map[int]telemetry.Listener
	nextID    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[int]telemetry.Listener)}
}

func (s *fakeSource) Subscribe(listener telemetry.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSource) publish(packet *common.TelemetryPacket) {
	s.mu.Lock()
	listeners := make([]telemetry.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()
	for _, l := range listeners {
		l(packet)
	}
}

func packetFor(cameraID string, objects ...common.TelemetryObject) *common.TelemetryPacket {
	if objects == nil {
		objects = []common.TelemetryObject{}
	}
	return &common.TelemetryPacket{CameraID: cameraID, Timestamp: 1, Objects: objects}
}

func TestCameras(t *testing.T) {
	cameras := DefaultCameras()

	assert.Equal(t, []string{"CAM-1", "CAM-2", "CAM-3"}, cameras.IDs())
	assert.True(t, cameras.Known("CAM-2"))
	assert.False(t, cameras.Known("CAM-9"))
	assert.Equal(t, "/videos/cam3.mp4", cameras.Source("CAM-3"))
	assert.Equal(t, "/videos/cam1.mp4", cameras.Source("CAM-9"), "unknown camera falls back to the first source")
	assert.Empty(t, Cameras{}.Source("CAM-1"))
}

func TestStoreKeepsLatestPerCamera(t *testing.T) {
	source := newFakeSource()
	store := NewStore()
	detach := store.Attach(source)

	assert.False(t, store.Ready())
	assert.Nil(t, store.Latest("CAM-1"))

	first := packetFor("CAM-1")
	second := packetFor("CAM-1")
	other := packetFor("CAM-2")
	source.publish(first)
	source.publish(other)
	source.publish(second)

	assert.True(t, store.Ready())
	assert.Same(t, second, store.Latest("CAM-1"))
	assert.Same(t, other, store.Latest("CAM-2"))
	assert.Nil(t, store.Latest("CAM-3"))

	detach()
	source.publish(packetFor("CAM-1"))
	assert.Same(t, second, store.Latest("CAM-1"))
}

func TestStoreWatchersArePerCamera(t *testing.T) {
	store := NewStore()
	var cam1, cam2 []*common.TelemetryPacket

	cancel1 := store.Watch("CAM-1", func(p *common.TelemetryPacket) { cam1 = append(cam1, p) })
	cancel2 := store.Watch("CAM-2", func(p *common.TelemetryPacket) { cam2 = append(cam2, p) })
	defer cancel2()

	store.Apply(packetFor("CAM-1"))
	store.Apply(packetFor("CAM-3"))
	store.Apply(nil)
	assert.Len(t, cam1, 1)
	assert.Empty(t, cam2)

	cancel1()
	cancel1()
	store.Apply(packetFor("CAM-1"))
	assert.Len(t, cam1, 1)
}

func TestViewRedrawsOnlyOnChange(t *testing.T) {
	var frames [][]byte
	view := NewView("CAM-1", func(frame []byte) { frames = append(frames, frame) })

	packet := packetFor("CAM-1")
	assert.False(t, view.SetPacket(packet), "no redraw before the surface has a size")
	assert.True(t, view.SetDimensions(common.DimensionsForWidth(640)))
	assert.False(t, view.SetDimensions(common.DimensionsForWidth(640)))
	assert.False(t, view.SetPacket(packet))

	// Пакет с тем же содержимым - новая ссылка, значит новая отрисовка
	assert.True(t, view.SetPacket(packetFor("CAM-1")))
	assert.True(t, view.SetDimensions(common.DimensionsForWidth(320)))

	assert.Equal(t, 3, view.Redraws())
	require.Len(t, frames, 3)
	assert.Equal(t, frames[2], view.Frame())
	assert.Contains(t, string(view.Frame()), "CAM-1")
}

func TestSeedDoesNotOverrideDeliveredPacket(t *testing.T) {
	view := NewView("CAM-1", nil)
	require.True(t, view.SetDimensions(common.DimensionsForWidth(640)))

	stale := packetFor("CAM-1", common.TelemetryObject{Label: "stale"})
	fresh := packetFor("CAM-1", common.TelemetryObject{Label: "fresh"})

	// Наблюдатель доставил новый пакет раньше, чем view получил снимок Latest
	require.True(t, view.SetPacket(fresh))
	assert.False(t, view.seedPacket(stale))
	assert.Contains(t, string(view.Frame()), "fresh")
	assert.NotContains(t, string(view.Frame()), "stale")
	assert.Equal(t, 2, view.Redraws())

	empty := NewView("CAM-1", nil)
	empty.SetDimensions(common.DimensionsForWidth(640))
	assert.False(t, empty.seedPacket(nil))
	assert.True(t, empty.seedPacket(stale))
	assert.Contains(t, string(empty.Frame()), "stale")
}

func TestOpenView(t *testing.T) {
	store := NewStore()
	existing := packetFor("CAM-2", common.TelemetryObject{Label: "satellite", Confidence: 0.5})
	store.Apply(existing)

	viewport := resize.NewViewport(640)
	frames := 0
	view, closeView := store.OpenView("CAM-2", viewport, func([]byte) { frames++ })

	assert.Equal(t, 1, view.Redraws(), "first frame uses the stored packet")
	assert.Contains(t, string(view.Frame()), "satellite 50%")

	store.Apply(packetFor("CAM-1"))
	store.Apply(packetFor("CAM-3"))
	assert.Equal(t, 1, view.Redraws(), "packets for other cameras do not redraw")

	store.Apply(packetFor("CAM-2"))
	assert.Equal(t, 2, view.Redraws())
	assert.NotContains(t, string(view.Frame()), "satellite")

	viewport.SetWidth(1280)
	assert.Equal(t, 3, view.Redraws())

	closeView()
	closeView()
	assert.Equal(t, 0, viewport.Observers())
	store.Apply(packetFor("CAM-2"))
	viewport.SetWidth(320)
	assert.Equal(t, 3, view.Redraws())
	assert.Equal(t, 3, frames)
}
