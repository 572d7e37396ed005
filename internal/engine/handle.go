package engine

import "errors"

// Handle is the cloneable, cheap, thread-safe client-side facade onto an Actor's mailbox. Every
// method builds a command carrying a fresh one-shot reply channel, sends it on the mailbox, and
// awaits the typed reply. AddListener is fire-and-forget.
type Handle struct {
	cmdCh chan command

	// bufferSizeMs is fixed at construction (it never changes for an Engine's lifetime), so it's
	// read directly here rather than round-tripping through the mailbox on every call.
	bufferSizeMs uint64
}

// NewHandle wraps an Actor's mailbox. Handle values are safe to copy and share across goroutines.
func NewHandle(a *Actor) Handle {
	return Handle{cmdCh: a.cmdCh, bufferSizeMs: a.engine.BufferSizeMs()}
}

// BufferSizeMs reports the headstart/lead-ahead window this engine was configured with.
func (h Handle) BufferSizeMs() uint64 {
	return h.bufferSizeMs
}

// PlayFile starts playback of path, pre-empting any in-flight track, and blocks until this
// track's terminal PlaybackResult (Finished, Interrupted, or Errored) is available.
func (h Handle) PlayFile(path string) (PlaybackResult, error) {
	reply := make(chan PlaybackResult, 1)
	cmd := command{kind: cmdPlayFile, path: path, replyResult: reply}

	if err := h.send(cmd); err != nil {
		return PlaybackResult{}, err
	}

	return <-reply, nil
}

// GetMetadata returns the currently playing track's metadata, or nil.
func (h Handle) GetMetadata() (*TrackMetadata, error) {
	reply := make(chan *TrackMetadata, 1)
	if err := h.send(command{kind: cmdGetMetadata, replyMeta: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// GetTimeData returns (trackStartMs, currentMs).
func (h Handle) GetTimeData() (trackStartMs, currentMs uint64, err error) {
	reply := make(chan [2]uint64, 1)
	if err := h.send(command{kind: cmdGetTimeData, replyTime: reply}); err != nil {
		return 0, 0, err
	}
	v := <-reply
	return v[0], v[1], nil
}

// GetHeadstart returns the current headstart window's already-encoded frames.
func (h Handle) GetHeadstart() ([]EncodedFrame, error) {
	reply := make(chan []EncodedFrame, 1)
	if err := h.send(command{kind: cmdGetHeadstart, replyFrames: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// GetPlaylistPath returns the directory of the track currently playing, or nil.
func (h Handle) GetPlaylistPath() (*string, error) {
	reply := make(chan *string, 1)
	if err := h.send(command{kind: cmdGetPlaylistPath, replyPath: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// AddListener registers ch to receive every subsequently published frame. Fire-and-forget: the
// listener's own channel carries all future traffic, so there is no reply to await.
func (h Handle) AddListener(ch chan EncodedFrame) error {
	return h.send(command{kind: cmdAddListener, ch: ch})
}

// ListenerCount reports the number of currently registered listeners.
func (h Handle) ListenerCount() (int, error) {
	reply := make(chan int, 1)
	if err := h.send(command{kind: cmdGetListenerCount, replyCount: reply}); err != nil {
		return 0, err
	}
	return <-reply, nil
}

func (h Handle) send(cmd command) (err error) {
	defer func() {
		if recover() != nil {
			err = errors.New("engine: mailbox closed")
		}
	}()
	h.cmdCh <- cmd
	return nil
}
