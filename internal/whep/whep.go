// Package whep implements WebRTC-HTTP Egress Protocol signaling for a second listener transport
// alongside the plain HTTP chunked Ogg stream: clients receive the same live audio as Opus RTP
// samples over a PeerConnection instead of an Ogg container.
//
// Server is an instance owned by one broadcaster, fed from the engine's own listener fan-out
// like any other listener, rather than a single process-wide stream.
package whep

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/WinterCore/octopus/internal/engine"
)

// Server owns one shared Opus audio track and the set of active WHEP sessions subscribed to it.
type Server struct {
	handle engine.Handle
	api    *webrtc.API
	track  *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	sessions map[string]*webrtc.PeerConnection
}

// New builds a WHEP server, registers its listener channel with handle, and starts the goroutine
// that writes every subsequently published frame into the shared audio track.
func New(handle engine.Handle) (*Server, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   engine.SampleRate,
			Channels:    engine.Channels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("whep: register codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("whep: register interceptors: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: engine.SampleRate, Channels: engine.Channels},
		"audio",
		"octopus",
	)
	if err != nil {
		return nil, fmt.Errorf("whep: new track: %w", err)
	}

	s := &Server{
		handle:   handle,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry)),
		track:    track,
		sessions: make(map[string]*webrtc.PeerConnection),
	}

	ch := make(chan engine.EncodedFrame, 512)
	if err := handle.AddListener(ch); err != nil {
		return nil, err
	}
	go s.feed(ch)

	return s, nil
}

// feed writes every frame the engine publishes into the shared track as an Opus sample; pion
// derives RTP timestamps and sequencing from the declared 20ms duration, so this package never
// touches RTP packets directly.
func (s *Server) feed(ch chan engine.EncodedFrame) {
	for frame := range ch {
		if err := s.track.WriteSample(media.Sample{Data: frame.Bytes, Duration: 20 * time.Millisecond}); err != nil {
			log.Printf("whep: write sample: %v", err)
		}
	}
}

// Offer negotiates a new WHEP session from an SDP offer and returns the SDP answer plus a session
// id identifying it for later teardown (DELETE /whep/{id}).
func (s *Server) Offer(offer string) (answer, sessionID string, err error) {
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", "", fmt.Errorf("whep: new peer connection: %w", err)
	}

	sessionID = uuid.New().String()

	if _, err := pc.AddTrack(s.track); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("whep: add track: %w", err)
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			_ = pc.Close()
			s.remove(sessionID)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{SDP: offer, Type: webrtc.SDPTypeOffer}); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("whep: set remote description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)

	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("whep: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(ans); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("whep: set local description: %w", err)
	}

	<-gatherComplete

	s.mu.Lock()
	s.sessions[sessionID] = pc
	s.mu.Unlock()

	return pc.LocalDescription().SDP, sessionID, nil
}

// Close tears down sessionID's PeerConnection, if any.
func (s *Server) Close(sessionID string) {
	s.mu.Lock()
	pc, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		_ = pc.Close()
	}
}

func (s *Server) remove(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// SessionCount reports the number of currently active WHEP sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
