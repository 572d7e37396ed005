package engine

// maxHeadstartSamplesFor returns the PCM sample cap for the sliding pre-roll window (bufferSizeMs
// of stereo audio at SampleRate).
func maxHeadstartSamplesFor(bufferSizeMs uint64) int {
	return int(bufferSizeMs * SampleRate * Channels / 1000)
}

// HeadstartBuffer is the sliding pre-roll window new listeners are handed before the live tail.
//
// Rather than re-encoding cached PCM with a fresh encoder on every GetHeadstart call, which would
// produce frames that aren't bit-identical to what was actually broadcast, this buffer retains the
// already-encoded EncodedFrame values alongside the PCM window and returns those directly.
type HeadstartBuffer struct {
	pcm []int16
	cap int

	frames []EncodedFrame

	baseGranule uint64
}

// NewHeadstartBuffer builds an empty headstart buffer sized to hold bufferSizeMs of PCM.
func NewHeadstartBuffer(bufferSizeMs uint64) *HeadstartBuffer {
	cap := maxHeadstartSamplesFor(bufferSizeMs)
	return &HeadstartBuffer{
		pcm:    make([]int16, 0, cap),
		cap:    cap,
		frames: make([]EncodedFrame, 0, bufferSizeMs/20+1),
	}
}

// Append records one just-published frame's PCM and its already-encoded bytes. pcm is
// samplesPerChannel*Channels worth of PCM (the live decode scratch, not retained beyond this
// call — it is copied). The buffer was already at capacity the frame *before* a drain is
// triggered, so the frame that first reaches cap fills it exactly; the next one slides the window.
func (h *HeadstartBuffer) Append(pcm []int16, frame EncodedFrame, frameSize uint64) {
	wasFull := len(h.pcm) >= h.cap

	if len(h.pcm) == 0 {
		h.baseGranule = frame.GranulePos - frameSize
	}

	h.pcm = append(h.pcm, pcm...)
	h.frames = append(h.frames, EncodedFrame{Bytes: frame.Bytes, GranulePos: frame.GranulePos})

	if wasFull {
		drop := len(pcm)
		h.pcm = h.pcm[drop:]
		h.baseGranule += frameSize
		h.frames = h.frames[1:]
	}
}

// Frames returns a defensive copy of the cached already-encoded headstart frames, in order.
func (h *HeadstartBuffer) Frames() []EncodedFrame {
	out := make([]EncodedFrame, len(h.frames))
	copy(out, h.frames)
	return out
}

// Len reports the current PCM sample count retained; it never exceeds Cap.
func (h *HeadstartBuffer) Len() int {
	return len(h.pcm)
}

// Cap reports the PCM sample cap this buffer was sized for.
func (h *HeadstartBuffer) Cap() int {
	return h.cap
}

// BaseGranule is the granule position corresponding to the first sample still in the buffer.
func (h *HeadstartBuffer) BaseGranule() uint64 {
	return h.baseGranule
}
