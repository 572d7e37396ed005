package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WinterCore/octopus/internal/ogg"
)

// tickResult is the outcome of one ProcessNextPacket call.
type tickResult int

const (
	tickMore tickResult = iota
	tickEOF
)

// PlaybackState bundles the per-track resources the actor threads through ProcessNextPacket
// calls: the packet reader, its backing file, the codec pair, and the track id it belongs to.
type PlaybackState struct {
	trackID uint64
	reader  *PacketReader
	file    *os.File
	codec   *codec
}

// Close releases the file backing this playback state.
func (s *PlaybackState) Close() {
	if s.file != nil {
		_ = s.file.Close()
	}
}

// Engine owns all mutable broadcast state. It is not safe for concurrent use directly — all
// access must happen on the single actor goroutine (see actor.go); this type only contains the
// sequential decode/encode/publish/pace algorithm.
type Engine struct {
	startInstant time.Time
	started      bool

	globalGranule uint64

	currentTrackID uint64
	currentTrack   *TrackMetadata
	currentPath    *string

	headstart *HeadstartBuffer

	mu        sync.Mutex // guards listeners so AddListener/ListenerCount/publish can race safely
	listeners []*Listener
	nextLID   uint64

	bufferSizeMs uint64
}

// NewEngine builds an idle engine with the given headstart window.
func NewEngine(bufferSizeMs uint64) *Engine {
	if bufferSizeMs == 0 {
		bufferSizeMs = BufferSizeMs
	}
	return &Engine{
		headstart:    NewHeadstartBuffer(bufferSizeMs),
		bufferSizeMs: bufferSizeMs,
	}
}

// StartPlayback opens path, scans its duration and tags, and returns a PlaybackState ready for
// ProcessNextPacket. It never resets globalGranule, startInstant, the headstart buffer, or the
// listener set — a new track simply continues the existing global timeline.
func (e *Engine) StartPlayback(path string) (*PlaybackState, error) {
	durationMs, err := ScanDuration(path)
	if err != nil {
		return nil, fmt.Errorf("engine: scan duration: %w", err)
	}

	title, artist, imageURL := readTagsBestEffort(path)

	reader, file, err := OpenPacketReader(path)
	if err != nil {
		return nil, fmt.Errorf("engine: open: %w", err)
	}

	c, err := newCodec()
	if err != nil {
		file.Close()
		return nil, err
	}

	e.currentTrackID++
	trackID := e.currentTrackID

	e.currentTrack = &TrackMetadata{
		ID:              trackID,
		StartGranulePos: e.globalGranule,
		Title:           title,
		Artist:          artist,
		ImageURL:        imageURL,
		DurationMs:      durationMs,
	}
	pathCopy := path
	e.currentPath = &pathCopy

	if !e.started {
		e.startInstant = time.Now()
		e.started = true
	}

	return &PlaybackState{
		trackID: trackID,
		reader:  reader,
		file:    file,
		codec:   c,
	}, nil
}

// readTagsBestEffort reads the second Ogg packet (OpusTags) off path for track metadata. Any
// failure yields "Unknown Title / Unknown Author", not a hard error.
func readTagsBestEffort(path string) (title, artist string, imageURL *string) {
	title, artist = "Unknown Title", "Unknown Author"

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	r := NewPacketReader(f)

	// first packet: OpusHead, discard
	if _, _, err := r.Next(); err != nil {
		return
	}
	// second packet: OpusTags
	pkt, _, err := r.Next()
	if err != nil {
		return
	}

	comments, err := ogg.ParseOpusTags(pkt)
	if err != nil {
		return
	}

	if t, ok := comments.Title(); ok {
		title = t
	}
	if a, ok := comments.Artist(); ok {
		artist = a
	}

	return
}

// ProcessNextPacket runs one iteration of the hot loop body. It reads, decodes, paces, re-encodes
// and publishes exactly one source packet's worth of audio, or reports EOF / interruption / a
// decode-or-I/O error.
func (e *Engine) ProcessNextPacket(state *PlaybackState) (tickResult, error) {
	pkt, _, err := state.reader.Next()
	if err == io.EOF {
		return tickEOF, nil
	}
	if err != nil {
		return tickMore, fmt.Errorf("engine: read packet: %w", err)
	}

	if state.trackID != e.currentTrackID {
		return tickMore, errInterrupted
	}

	if ogg.IsOpusHead(pkt) || ogg.IsOpusTags(pkt) {
		return tickMore, nil
	}

	samples, err := state.codec.decode(pkt)
	if err != nil {
		return tickMore, err
	}

	e.globalGranule += uint64(samples)
	absgp := e.globalGranule

	encoded, err := state.codec.encode(samples)
	if err != nil {
		return tickMore, err
	}

	frame := EncodedFrame{Bytes: encoded, GranulePos: absgp}
	e.publish(frame)

	pcm := state.codec.decodeScratch[:samples*Channels]
	e.headstart.Append(pcm, frame, uint64(samples))

	e.pace(absgp)

	return tickMore, nil
}

// publish fans frame out to every listener with a non-blocking send, evicting any listener whose
// send fails (backpressure or disconnect) in reverse index order.
func (e *Engine) publish(frame EncodedFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var failed []int
	for i, l := range e.listeners {
		select {
		case l.Ch <- frame:
		default:
			failed = append(failed, i)
		}
	}

	for i := len(failed) - 1; i >= 0; i-- {
		idx := failed[i]
		close(e.listeners[idx].Ch)
		e.listeners = append(e.listeners[:idx], e.listeners[idx+1:]...)
	}
}

// pace sleeps to keep the engine exactly bufferSizeMs ahead of the wall clock once the headstart
// buffer has first filled.
func (e *Engine) pace(absgp uint64) {
	if e.headstart.Len() < e.headstart.Cap() {
		return
	}

	nowPlayingMs := absgp * 1000 / SampleRate
	elapsedMs := uint64(time.Since(e.startInstant).Milliseconds())

	if nowPlayingMs > elapsedMs+e.bufferSizeMs {
		time.Sleep(time.Duration(nowPlayingMs-elapsedMs-e.bufferSizeMs) * time.Millisecond)
	}
}

// GetHeadstart materialises the current headstart buffer as already-encoded frames.
func (e *Engine) GetHeadstart() []EncodedFrame {
	return e.headstart.Frames()
}

// GetTimeData returns (trackStartMs, currentMs): currentMs compensates for the pacing lead-ahead
// so it reflects what a listener is hearing, not what has been produced.
func (e *Engine) GetTimeData() (trackStartMs, currentMs uint64) {
	if e.currentTrack != nil {
		trackStartMs = e.currentTrack.StartGranulePos * 1000 / SampleRate
	}

	produced := e.globalGranule * 1000 / SampleRate
	if produced < e.bufferSizeMs {
		return trackStartMs, 0
	}
	return trackStartMs, produced - e.bufferSizeMs
}

// GetMetadata returns the currently playing track's metadata, or nil if nothing has played yet.
func (e *Engine) GetMetadata() *TrackMetadata {
	return e.currentTrack
}

// GetPlaylistPath returns the directory of the track currently playing, or nil.
func (e *Engine) GetPlaylistPath() *string {
	if e.currentPath == nil {
		return nil
	}
	dir := filepath.Dir(*e.currentPath)
	return &dir
}

// AddListener registers ch to receive every subsequently published frame.
func (e *Engine) AddListener(ch chan EncodedFrame) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextLID++
	id := e.nextLID
	e.listeners = append(e.listeners, &Listener{ID: id, Ch: ch})
	return id
}

// BufferSizeMs reports the headstart/lead-ahead window this engine was configured with.
func (e *Engine) BufferSizeMs() uint64 {
	return e.bufferSizeMs
}

// ListenerCount reports the number of currently registered listeners.
func (e *Engine) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// ListOpusFiles enumerates dir non-recursively for .opus files, sorted lexicographically. Returns
// an error if the directory contains none.
func ListOpusFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".opus") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("engine: no .opus files found in %s", dir)
	}

	sort.Strings(files)
	return files, nil
}
