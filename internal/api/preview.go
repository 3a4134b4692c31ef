package api

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/brianweld/scenecap/internal/logger"
)

// PreviewHub streams captured frames as Motion JPEG over HTTP, one stream
// per camera. It taps the capture pipeline through the controller's frame
// observer, so preview shows exactly what is being written to disk.
type PreviewHub struct {
	mu      sync.RWMutex
	running bool

	clientsMu sync.RWMutex
	clients   map[string]map[chan []byte]struct{}

	frameCount uint64
}

// NewPreviewHub creates a preview hub with no clients.
func NewPreviewHub() *PreviewHub {
	return &PreviewHub{
		clients: make(map[string]map[chan []byte]struct{}),
	}
}

// Start enables frame fan-out.
func (h *PreviewHub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.frameCount = 0
}

// Stop disables fan-out and disconnects all clients.
func (h *PreviewHub) Stop() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	h.clientsMu.Lock()
	for _, cams := range h.clients {
		for ch := range cams {
			close(ch)
		}
	}
	h.clients = make(map[string]map[chan []byte]struct{})
	h.clientsMu.Unlock()

	logger.WithComponent("preview").Info().Uint64("frames", h.frameCount).Msg("preview hub stopped")
}

// IsRunning reports whether the hub accepts frames.
func (h *PreviewHub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Observe satisfies capture.FrameObserver. Slow clients skip frames rather
// than stall the capture pipeline.
func (h *PreviewHub) Observe(camera string, frame *image.RGBA) {
	if !h.IsRunning() {
		return
	}

	h.clientsMu.RLock()
	cams := h.clients[camera]
	idle := len(cams) == 0
	h.clientsMu.RUnlock()
	if idle {
		return
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: 90}); err != nil {
		logger.WithComponent("preview").Warn().Err(err).Msg("failed to encode preview frame")
		return
	}
	jpegData := buf.Bytes()

	h.clientsMu.RLock()
	for ch := range h.clients[camera] {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	h.clientsMu.RUnlock()

	h.mu.Lock()
	h.frameCount++
	h.mu.Unlock()
}

// Handler returns the MJPEG stream handler for GET /api/preview/{camera}.
func (h *PreviewHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := mux.Vars(r)["camera"]

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		h.clientsMu.Lock()
		if h.clients[camera] == nil {
			h.clients[camera] = make(map[chan []byte]struct{})
		}
		h.clients[camera][frameChan] = struct{}{}
		count := len(h.clients[camera])
		h.clientsMu.Unlock()

		logger.WithComponent("preview").Info().
			Str("camera", camera).
			Int("clients", count).
			Msg("preview client connected")

		defer func() {
			h.clientsMu.Lock()
			delete(h.clients[camera], frameChan)
			remaining := len(h.clients[camera])
			h.clientsMu.Unlock()
			logger.WithComponent("preview").Info().
				Str("camera", camera).
				Int("clients", remaining).
				Msg("preview client disconnected")
		}()

		for jpegData := range frameChan {
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
