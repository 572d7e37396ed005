package engine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainListener reads every immediately-available frame off ch without blocking.
func drainListener(ch chan EncodedFrame) []EncodedFrame {
	var out []EncodedFrame
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestStartPlaybackReadsTagsAndDuration(t *testing.T) {
	path := writeOpusFixture(t, 10, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	meta := e.GetMetadata()
	require.NotNil(t, meta)
	assert.Equal(t, uint64(1), meta.ID)
	assert.Equal(t, "Song A", meta.Title)
	assert.Equal(t, "Artist A", meta.Artist)
	assert.Equal(t, uint64(0), meta.StartGranulePos)
	// 10 frames * 20ms = 200ms.
	assert.Equal(t, uint64(200), meta.DurationMs)
}

func TestReadTagsBestEffortUnknownMetadataOnUnreadableFile(t *testing.T) {
	// When the tags cannot be read at all (here the file does not exist), readTagsBestEffort
	// degrades to Unknown Title/Author instead of returning an error.
	title, artist, imageURL := readTagsBestEffort("/nonexistent/path/does-not-exist.opus")
	assert.Equal(t, "Unknown Title", title)
	assert.Equal(t, "Unknown Author", artist)
	assert.Nil(t, imageURL)
}

// TestProcessNextPacketEmitsStrictlyIncreasingGranules covers spec invariant 1.
func TestProcessNextPacketEmitsStrictlyIncreasingGranules(t *testing.T) {
	path := writeOpusFixture(t, 12, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	ch := make(chan EncodedFrame, 64)
	e.AddListener(ch)

	for {
		result, err := e.ProcessNextPacket(state)
		require.NoError(t, err)
		if result == tickEOF {
			break
		}
	}

	frames := drainListener(ch)
	require.Len(t, frames, 12)

	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].GranulePos, frames[i-1].GranulePos)
		assert.Equal(t, uint64(FrameSize), frames[i].GranulePos-frames[i-1].GranulePos)
	}
}

// TestGetHeadstartMatchesPublishedFrames covers spec invariant 3 for a short track (below cap):
// every published frame must also be present, verbatim, in the headstart buffer.
func TestGetHeadstartMatchesPublishedFrames(t *testing.T) {
	path := writeOpusFixture(t, 8, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	ch := make(chan EncodedFrame, 64)
	e.AddListener(ch)

	for {
		result, err := e.ProcessNextPacket(state)
		require.NoError(t, err)
		if result == tickEOF {
			break
		}
	}

	published := drainListener(ch)
	headstart := e.GetHeadstart()

	require.Len(t, headstart, len(published))
	for i := range published {
		assert.Equal(t, published[i].GranulePos, headstart[i].GranulePos)
		assert.Equal(t, published[i].Bytes, headstart[i].Bytes)
	}
}

// TestColdStartHeadstartIsEmpty covers S1: before any playback, GetHeadstart is empty.
func TestColdStartHeadstartIsEmpty(t *testing.T) {
	e := NewEngine(BufferSizeMs)
	assert.Empty(t, e.GetHeadstart())
}

// TestListenerEvictedOnBackpressure covers S5: a listener whose channel never drains is evicted
// after its buffer fills, while other listeners keep receiving every frame in order.
func TestListenerEvictedOnBackpressure(t *testing.T) {
	path := writeOpusFixture(t, 6, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	slow := make(chan EncodedFrame, 2) // never read from
	fast := make(chan EncodedFrame, 64)
	e.AddListener(slow)
	e.AddListener(fast)

	require.Equal(t, 2, e.ListenerCount())

	// The fixture's first two packets are OpusHead/OpusTags (skipped, no publish), so the 3rd
	// published audio frame lands on tick 5 overall.
	tick := 0
	audioFrames := 0
	for {
		result, err := e.ProcessNextPacket(state)
		require.NoError(t, err)
		if result == tickEOF {
			break
		}
		tick++
		if tick > 2 {
			audioFrames++
		}
		if audioFrames == 3 {
			// slow's capacity-2 channel was already full from the first two publishes; this
			// 3rd publish's non-blocking send failed and evicted it before the loop moved on.
			assert.Equal(t, 1, e.ListenerCount())
		}
	}

	fastFrames := drainListener(fast)
	assert.Len(t, fastFrames, audioFrames, "the listener that keeps draining must receive every frame")
}

// TestGetTimeDataIsNonDecreasing covers spec round-trip property 6.
func TestGetTimeDataIsNonDecreasing(t *testing.T) {
	path := writeOpusFixture(t, 10, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	_, prevMs := e.GetTimeData()
	for {
		result, err := e.ProcessNextPacket(state)
		require.NoError(t, err)
		if result == tickEOF {
			break
		}
		_, currentMs := e.GetTimeData()
		assert.GreaterOrEqual(t, currentMs, prevMs)
		prevMs = currentMs
	}
}

// TestMidTrackSwitchIsContinuousAtGlobalGranule covers spec invariant 5 and §4.3.2: starting a new
// track never resets globalGranule, and the stale PlaybackState surrenders via errInterrupted.
func TestMidTrackSwitchIsContinuousAtGlobalGranule(t *testing.T) {
	pathA := writeOpusFixture(t, 5, "Track A", "Artist A")
	pathB := writeOpusFixture(t, 5, "Track B", "Artist B")

	e := NewEngine(BufferSizeMs)

	stateA, err := e.StartPlayback(pathA)
	require.NoError(t, err)
	defer stateA.Close()

	// Play a couple of audio frames of A so globalGranule has advanced. The fixture's first two
	// packets are OpusHead/OpusTags, which are skipped without advancing globalGranule.
	for i := 0; i < 4; i++ {
		_, err = e.ProcessNextPacket(stateA)
		require.NoError(t, err)
	}

	granuleBeforeSwitch := e.globalGranule
	require.Equal(t, uint64(2*FrameSize), granuleBeforeSwitch)

	stateB, err := e.StartPlayback(pathB)
	require.NoError(t, err)
	defer stateB.Close()

	// stateA is now stale: the next tick on it must surrender, not touch globalGranule.
	_, err = e.ProcessNextPacket(stateA)
	assert.ErrorIs(t, err, errInterrupted)
	assert.Equal(t, granuleBeforeSwitch, e.globalGranule)

	meta := e.GetMetadata()
	require.NotNil(t, meta)
	assert.Equal(t, uint64(2), meta.ID)
	assert.Equal(t, "Track B", meta.Title)
	assert.Equal(t, granuleBeforeSwitch, meta.StartGranulePos)

	// The first frame of the new track continues the timeline with no gap and no overlap. stateB
	// is a freshly opened reader, so its first two packets are OpusHead/OpusTags (skipped, no
	// publish) before the first real audio frame.
	ch := make(chan EncodedFrame, 64)
	e.AddListener(ch)
	for i := 0; i < 3; i++ {
		_, err = e.ProcessNextPacket(stateB)
		require.NoError(t, err)
	}

	frames := drainListener(ch)
	require.Len(t, frames, 1)
	assert.Equal(t, granuleBeforeSwitch+FrameSize, frames[0].GranulePos)
}

// TestLateJoinerGetsHeadstartPlusLiveTailCoherently covers S4: a listener that registers partway
// through a track must be able to reconstruct a gapless, non-duplicated timeline by combining a
// GetHeadstart() snapshot taken just before it joins with the live frames it receives afterward,
// while an earlier listener (registered before any frame was published) sees every frame live.
func TestLateJoinerGetsHeadstartPlusLiveTailCoherently(t *testing.T) {
	path := writeOpusFixture(t, 20, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	early := make(chan EncodedFrame, 64)
	e.AddListener(early)

	// Process the two header packets plus 6 audio frames before the late joiner arrives.
	for i := 0; i < 8; i++ {
		_, err := e.ProcessNextPacket(state)
		require.NoError(t, err)
	}

	snapshot := e.GetHeadstart()
	require.Len(t, snapshot, 6)

	late := make(chan EncodedFrame, 64)
	e.AddListener(late)

	// Process the remaining 14 audio frames.
	for {
		result, err := e.ProcessNextPacket(state)
		require.NoError(t, err)
		if result == tickEOF {
			break
		}
	}

	earlyFrames := drainListener(early)
	require.Len(t, earlyFrames, 20, "a listener registered before playback starts sees every frame")

	lateLive := drainListener(late)
	require.Len(t, lateLive, 14, "the late joiner only receives frames published after it registers")

	reconstructed := append(append([]EncodedFrame{}, snapshot...), lateLive...)
	require.Len(t, reconstructed, 20)

	for i := range reconstructed {
		assert.Equal(t, earlyFrames[i].GranulePos, reconstructed[i].GranulePos)
		assert.Equal(t, earlyFrames[i].Bytes, reconstructed[i].Bytes)
	}
	for i := 1; i < len(reconstructed); i++ {
		assert.Equal(t, uint64(FrameSize), reconstructed[i].GranulePos-reconstructed[i-1].GranulePos,
			"no gap or overlap across the headstart-snapshot/live-tail seam")
	}
}

func TestProcessNextPacketSkipsHeaderPackets(t *testing.T) {
	path := writeOpusFixture(t, 3, "Song A", "Artist A")

	e := NewEngine(BufferSizeMs)
	state, err := e.StartPlayback(path)
	require.NoError(t, err)
	defer state.Close()

	// The first two packets in the fixture are OpusHead/OpusTags; processing them must not
	// advance globalGranule nor publish anything.
	result, err := e.ProcessNextPacket(state)
	require.NoError(t, err)
	assert.Equal(t, tickMore, result)
	assert.Equal(t, uint64(0), e.globalGranule)

	result, err = e.ProcessNextPacket(state)
	require.NoError(t, err)
	assert.Equal(t, tickMore, result)
	assert.Equal(t, uint64(0), e.globalGranule)
}

func TestListOpusFilesSortsAndFiltersExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.opus", "a.opus", "c.mp3", "d.OPUS"} {
		f, err := os.Create(dir + "/" + name)
		require.NoError(t, err)
		f.Close()
	}

	files, err := ListOpusFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Contains(t, files[0], "a.opus")
	assert.Contains(t, files[1], "b.opus")
	assert.Contains(t, files[2], "d.OPUS")
}

func TestListOpusFilesEmptyDirIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := ListOpusFiles(dir)
	assert.Error(t, err)
}
