// Package httpapi serves the live Ogg/Opus audio stream and a JSON status snapshot over HTTP.
package httpapi

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/WinterCore/octopus/internal/engine"
	"github.com/WinterCore/octopus/internal/ogg"
)

// Server serves GET / (the chunked Ogg stream) and GET /status, following the same flusher-loop
// and corsHandler/mux wiring used elsewhere in this codebase.
type Server struct {
	handle engine.Handle

	// whepSessionCount, when set, reports the number of active WHEP egress sessions for
	// inclusion in the status snapshot.
	whepSessionCount func() int
}

// New builds an HTTP server backed by handle.
func New(handle engine.Handle) *Server {
	return &Server{handle: handle}
}

// SetWHEPSessionCounter wires a WHEP session counter into the status snapshot; callers that don't
// run WHEP egress can leave this unset.
func (s *Server) SetWHEPSessionCounter(counter func() int) {
	s.whepSessionCount = counter
}

// Mux builds the registered http.ServeMux for this server.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", corsHandler(s.handleAudio))
	mux.HandleFunc("/status", corsHandler(s.handleStatus))
	return mux
}

func corsHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "audio/ogg")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Printf("httpapi: ResponseWriter does not support flushing")
		return
	}

	framer := ogg.NewFramer(rand.Uint32())

	for _, page := range framer.HeaderPages() {
		if _, err := w.Write(page); err != nil {
			return
		}
	}
	flusher.Flush()

	headstart, err := s.handle.GetHeadstart()
	if err != nil {
		log.Printf("httpapi: get headstart: %v", err)
		return
	}

	ch := make(chan engine.EncodedFrame, 512)

	// Queue the headstart frames before registering the listener channel: otherwise a burst
	// of live frames could fill ch before the headstart write loop catches up.
	for _, f := range headstart {
		if err := writeFrame(w, framer, f); err != nil {
			return
		}
	}
	flusher.Flush()

	if err := s.handle.AddListener(ch); err != nil {
		log.Printf("httpapi: add listener: %v", err)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if err := writeFrame(w, framer, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, framer *ogg.Framer, frame engine.EncodedFrame) error {
	_, err := w.Write(framer.Frame(frame.Bytes, frame.GranulePos))
	return err
}

type statusResponse struct {
	ID               uint64  `json:"id"`
	Title            string  `json:"title"`
	Artist           string  `json:"artist"`
	TrackStartMs     uint64  `json:"active_file_start_time_ms"`
	CurrentMs        uint64  `json:"active_file_current_time_ms"`
	DurationMs       uint64  `json:"active_file_duration_ms"`
	BufferSizeMs     uint64  `json:"buffer_size_ms"`
	Image            *string `json:"image"`
	ListenerCount    int     `json:"listener_count"`
	WHEPSessionCount int     `json:"whep_session_count"`
	GeneratedAtUnix  int64   `json:"generated_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := s.handle.GetMetadata()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	trackStartMs, currentMs, err := s.handle.GetTimeData()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	listenerCount, err := s.handle.ListenerCount()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		TrackStartMs:    trackStartMs,
		CurrentMs:       currentMs,
		BufferSizeMs:    s.handle.BufferSizeMs(),
		ListenerCount:   listenerCount,
		GeneratedAtUnix: time.Now().Unix(),
	}
	if meta != nil {
		resp.ID = meta.ID
		resp.Title = meta.Title
		resp.Artist = meta.Artist
		resp.DurationMs = meta.DurationMs
		resp.Image = meta.ImageURL
	}
	if s.whepSessionCount != nil {
		resp.WHEPSessionCount = s.whepSessionCount()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
