// Package wsapi serves the metadata WebSocket endpoint: clients request a snapshot on demand,
// and every connected client is pushed the same snapshot on each track boundary.
package wsapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/WinterCore/octopus/internal/engine"
)

// metadataMessage is the JSON payload sent both on request and on track-boundary broadcast,
// including "id" and "buffer_size_ms" alongside the usual title/author/timing fields.
type metadataMessage struct {
	ID                       uint64  `json:"id"`
	Title                    string  `json:"title"`
	Author                   string  `json:"author"`
	ActiveFileDurationMs     uint64  `json:"active_file_duration_ms"`
	ActiveFileStartTimeMs    uint64  `json:"active_file_start_time_ms"`
	ActiveFileCurrentTimeMs  uint64  `json:"active_file_current_time_ms"`
	BufferSizeMs             uint64  `json:"buffer_size_ms"`
	Image                    *string `json:"image"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server hosts the metadata WebSocket endpoint.
type Server struct {
	handle engine.Handle

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New builds a metadata server backed by handle.
func New(handle engine.Handle) *Server {
	return &Server{
		handle: handle,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Mux builds the registered http.ServeMux for this server.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsapi: upgrade: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) != "metadata" {
			continue
		}

		snapshot, err := s.snapshot()
		if err != nil {
			log.Printf("wsapi: snapshot: %v", err)
			continue
		}
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}
}

// BroadcastOnTrackBoundary pushes the current metadata snapshot to every connected socket. The
// caller invokes this whenever a PlayFile call returns Finished or Interrupted.
func (s *Server) BroadcastOnTrackBoundary() {
	snapshot, err := s.snapshot()
	if err != nil {
		log.Printf("wsapi: broadcast snapshot: %v", err)
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []*websocket.Conn
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		delete(s.conns, conn)
		_ = conn.Close()
	}
}

func (s *Server) snapshot() (metadataMessage, error) {
	meta, err := s.handle.GetMetadata()
	if err != nil {
		return metadataMessage{}, err
	}
	trackStartMs, currentMs, err := s.handle.GetTimeData()
	if err != nil {
		return metadataMessage{}, err
	}

	msg := metadataMessage{
		ActiveFileStartTimeMs:   trackStartMs,
		ActiveFileCurrentTimeMs: currentMs,
		BufferSizeMs:            s.handle.BufferSizeMs(),
	}
	if meta != nil {
		msg.ID = meta.ID
		msg.Title = meta.Title
		msg.Author = meta.Artist
		msg.ActiveFileDurationMs = meta.DurationMs
		msg.Image = meta.ImageURL
	}

	return msg, nil
}
