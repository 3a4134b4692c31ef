package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/brianweld/scenecap/internal/capture"
	"github.com/brianweld/scenecap/internal/config"
	"github.com/brianweld/scenecap/internal/logger"
	"github.com/brianweld/scenecap/internal/scene"
)

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	controller *capture.Controller
	scn        scene.Scene
	configMgr  *config.Manager
	stateStore *config.StateStore
	preview    *PreviewHub
	upgrader   websocket.Upgrader

	// Editable camera table, keyed by scene path. Settings survive between
	// sessions through the state store.
	camMu    sync.Mutex
	cams     map[string]capture.CameraSpec
	camOrder []string

	eventsMu     sync.Mutex
	eventClients map[chan capture.Event]struct{}
}

// NewServer creates a new API server
func NewServer(controller *capture.Controller, scn scene.Scene, configMgr *config.Manager) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		controller: controller,
		scn:        scn,
		configMgr:  configMgr,
		stateStore: config.NewStateStore(configMgr.GetConfigDir()),
		preview:    NewPreviewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		cams:         make(map[string]capture.CameraSpec),
		eventClients: make(map[chan capture.Event]struct{}),
	}

	s.restoreState()
	s.refreshCameras()

	s.preview.Start()
	controller.SetFrameObserver(s.preview.Observe)
	controller.SetListener(s.broadcastEvent)

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Camera management
	api.HandleFunc("/cameras", s.handleGetCameras).Methods("GET")
	api.HandleFunc("/cameras/{camera}", s.handleUpdateCamera).Methods("PUT")
	api.HandleFunc("/cameras/{camera}/enabled", s.handleSetEnabled).Methods("PUT")

	// Capture session
	api.HandleFunc("/capture/start", s.handleStartCapture).Methods("POST")
	api.HandleFunc("/capture/stop", s.handleStopCapture).Methods("POST")
	api.HandleFunc("/capture/status", s.handleCaptureStatus).Methods("GET")

	// Live streams
	api.HandleFunc("/events", s.handleEvents)
	api.HandleFunc("/preview/{camera}", s.preview.Handler()).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Router exposes the configured routes for embedding in a custom server.
func (s *Server) Router() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("starting server")
	return http.ListenAndServe(addr, s.Router())
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// restoreState seeds the camera table from the persisted settings, if any.
func (s *Server) restoreState() {
	st := s.stateStore.Load()
	if st == nil {
		return
	}
	s.camMu.Lock()
	defer s.camMu.Unlock()
	for _, row := range st.Cameras {
		spec := row.ToSpec()
		s.cams[spec.ScenePath] = spec
		s.camOrder = append(s.camOrder, spec.ScenePath)
	}
	if st.OutputRoot != "" {
		if err := s.configMgr.SetOutputRoot(st.OutputRoot); err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("failed to adopt restored output root")
		}
	}
}

// refreshCameras reconciles the camera table against the scene: newly
// discovered cameras get config defaults, removed ones are dropped, and
// existing settings are kept.
func (s *Server) refreshCameras() {
	paths := s.scn.ScanCameras()
	defaults := s.configMgr.GetCaptureDefaults()

	s.camMu.Lock()
	defer s.camMu.Unlock()

	seen := make(map[string]struct{}, len(paths))
	order := make([]string, 0, len(paths))
	for _, path := range paths {
		seen[path] = struct{}{}
		order = append(order, path)
		if _, ok := s.cams[path]; ok {
			continue
		}
		spec := capture.NewCameraSpec(path)
		spec.Width = defaults.Width
		spec.Height = defaults.Height
		spec.FPS = defaults.FPS
		spec.Mode = capture.CaptureMode(defaults.Mode)
		if optics, err := s.scn.ReadOptics(path); err == nil {
			spec.Optics = optics
		}
		s.cams[path] = spec
	}
	for path := range s.cams {
		if _, ok := seen[path]; !ok {
			delete(s.cams, path)
		}
	}
	s.camOrder = order
}

// specsLocked returns the camera table in scene order.
func (s *Server) specsLocked() []capture.CameraSpec {
	out := make([]capture.CameraSpec, 0, len(s.camOrder))
	for _, path := range s.camOrder {
		if spec, ok := s.cams[path]; ok {
			out = append(out, spec)
		}
	}
	return out
}

// findByName resolves a display name or full scene path to a table entry.
func (s *Server) findByName(name string) (capture.CameraSpec, bool) {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	if spec, ok := s.cams[name]; ok {
		return spec, true
	}
	for _, spec := range s.cams {
		if spec.DisplayName == name {
			return spec, true
		}
	}
	return capture.CameraSpec{}, false
}

// saveState persists the current camera table.
func (s *Server) saveState() {
	s.camMu.Lock()
	specs := s.specsLocked()
	s.camMu.Unlock()
	if err := s.stateStore.Save(specs, s.configMgr.GetOutputRoot()); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("failed to persist camera settings")
	}
}

// broadcastEvent fans a session event out to all websocket clients.
func (s *Server) broadcastEvent(e capture.Event) {
	s.eventsMu.Lock()
	for ch := range s.eventClients {
		select {
		case ch <- e:
		default:
			// Client is slow, drop the event
		}
	}
	s.eventsMu.Unlock()
}

// HTTP Handlers

func (s *Server) handleGetCameras(w http.ResponseWriter, r *http.Request) {
	s.refreshCameras()

	s.camMu.Lock()
	specs := s.specsLocked()
	s.camMu.Unlock()

	// Overlay live counters while a session is running.
	if s.controller.IsCapturing() {
		live := make(map[string]capture.CameraSpec)
		for _, spec := range s.controller.Cameras() {
			live[spec.ScenePath] = spec
		}
		for i := range specs {
			if l, ok := live[specs[i].ScenePath]; ok {
				specs[i].FrameCounter = l.FrameCounter
				specs[i].LastCapturePath = l.LastCapturePath
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(specs)
}

func (s *Server) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	if s.controller.IsCapturing() {
		http.Error(w, "camera settings are locked while capturing", http.StatusConflict)
		return
	}

	name := mux.Vars(r)["camera"]
	existing, ok := s.findByName(name)
	if !ok {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}

	var req struct {
		Width  *int          `json:"width"`
		Height *int          `json:"height"`
		FPS    *float64      `json:"fps"`
		Mode   *string       `json:"mode"`
		Optics *scene.Optics `json:"optics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Width != nil {
		existing.Width = *req.Width
	}
	if req.Height != nil {
		existing.Height = *req.Height
	}
	if req.FPS != nil {
		existing.FPS = *req.FPS
	}
	if req.Mode != nil {
		existing.Mode = capture.CaptureMode(*req.Mode)
	}
	if req.Optics != nil {
		existing.Optics = *req.Optics
		existing.Optics.FOV = scene.FOVFromFocalLength(existing.Optics.FocalLength)
	}
	if err := existing.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.camMu.Lock()
	s.cams[existing.ScenePath] = existing
	s.camMu.Unlock()
	s.saveState()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(existing)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["camera"]
	existing, ok := s.findByName(name)
	if !ok {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	existing.Enabled = req.Enabled
	s.camMu.Lock()
	s.cams[existing.ScenePath] = existing
	s.camMu.Unlock()
	s.saveState()

	// A live session picks the toggle up immediately.
	s.controller.UpdateEnabled(existing.ScenePath, req.Enabled)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OutputRoot string `json:"output_root"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	outputRoot := req.OutputRoot
	if outputRoot == "" {
		outputRoot = s.configMgr.GetOutputRoot()
	}

	s.refreshCameras()
	s.camMu.Lock()
	specs := s.specsLocked()
	s.camMu.Unlock()

	if err := s.controller.Start(specs, outputRoot); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "capturing",
		"session_id": s.controller.SessionID(),
		"output_dir": s.controller.OutputDir(),
	})
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	summary := s.controller.Stop()
	if summary == nil {
		http.Error(w, "not capturing", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "stopped",
		"summary": summary,
	})
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":         s.controller.Status(),
		"session_id":     s.controller.SessionID(),
		"output_dir":     s.controller.OutputDir(),
		"measured_fps":   s.controller.MeasuredFPS(),
		"warnings":       s.controller.Warnings(),
		"capture_errors": s.controller.CaptureErrors(),
		"cameras":        s.controller.Cameras(),
		"last_summary":   s.controller.LastSummary(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := make(chan capture.Event, 16)
	s.eventsMu.Lock()
	s.eventClients[events] = struct{}{}
	s.eventsMu.Unlock()
	defer func() {
		s.eventsMu.Lock()
		delete(s.eventClients, events)
		s.eventsMu.Unlock()
	}()

	// Reader goroutine just detects disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-events:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.Update(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
