package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"starwatch-hud/common"
	"starwatch-hud/overlay"
	"starwatch-hud/resize"
	"starwatch-hud/telemetry"
)

// ConnectionStatus сообщает состояние общего соединения телеметрии
type ConnectionStatus interface {
	State() telemetry.State
}

// CameraStatus - строка статуса камеры для панели видеопотоков
type CameraStatus struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Ready   bool   `json:"ready"`
	Objects int    `json:"objects"`
	Status  string `json:"status"`
}

// Server отдает оверлеи камер по HTTP и WebSocket
type Server struct {
	store    *Store
	cameras  Cameras
	status   ConnectionStatus
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewServer создает HTTP поверхность HUD. status может быть nil
func NewServer(store *Store, cameras Cameras, status ConnectionStatus) *Server {
	return &Server{
		store:   store,
		cameras: cameras,
		status:  status,
		logger:  log.New(os.Stdout, "[Dashboard] ", log.LstdFlags),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetLogger задает логгер сервера
func (s *Server) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Router возвращает маршрутизатор HUD
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/cameras", s.handleCameras)
	r.Get("/overlay/{cameraID}.svg", s.handleOverlay)
	r.Get("/ws/overlay/{cameraID}", s.handleOverlayStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if s.status != nil {
		state = s.status.State().String()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready": s.store.Ready(),
		"state": state,
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.CameraStatuses())
}

// CameraStatuses возвращает статусы камер в порядке реестра
func (s *Server) CameraStatuses() []CameraStatus {
	ready := s.store.Ready()
	statuses := make([]CameraStatus, 0, len(s.cameras))
	for _, camera := range s.cameras {
		status := CameraStatus{
			ID:     camera.ID,
			Source: camera.Source,
			Ready:  ready,
			Status: "Awaiting telemetry",
		}
		if packet := s.store.Latest(camera.ID); packet != nil {
			status.Objects = len(packet.Objects)
		}
		if ready {
			status.Status = fmt.Sprintf("%d Objects", status.Objects)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	cameraID, err := s.cameraParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	dims := common.DimensionsForWidth(widthParam(r))
	frame := overlay.RenderSVG(cameraID, s.store.Latest(cameraID), dims)

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(frame)
}

func (s *Server) handleOverlayStream(w http.ResponseWriter, r *http.Request) {
	cameraID, err := s.cameraParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	session := newSession(conn, resize.NewViewport(widthParam(r)), s.logger)
	_, closeView := s.store.OpenView(cameraID, session.viewport, session.push)
	s.logger.Printf("Overlay stream opened for %s (%s)", cameraID, conn.RemoteAddr())

	go session.writePump()
	session.readPump()

	closeView()
	s.logger.Printf("Overlay stream closed for %s (%s)", cameraID, conn.RemoteAddr())
}

func (s *Server) cameraParam(r *http.Request) (string, error) {
	cameraID := chi.URLParam(r, "cameraID")
	if !s.cameras.Known(cameraID) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCamera, cameraID)
	}
	return cameraID, nil
}

// widthParam читает ширину области из запроса, по умолчанию resize.DefaultWidth.
// Ширина больше resize.MaxWidth ограничивается
func widthParam(r *http.Request) float64 {
	width, err := strconv.ParseFloat(r.URL.Query().Get("width"), 64)
	if err != nil {
		return resize.DefaultWidth
	}
	width, ok := resize.SanitizeWidth(width)
	if !ok {
		return resize.DefaultWidth
	}
	return width
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Failed to encode response: %v", err)
	}
}
