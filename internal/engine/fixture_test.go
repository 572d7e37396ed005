package engine

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WinterCore/octopus/internal/ogg"
)

// buildTagsPacket assembles a raw OpusTags packet (magic, LE vendor length + vendor, LE comment
// count, then LE-length-prefixed KEY=VALUE entries) for use as a standalone test fixture.
func buildTagsPacket(t *testing.T, vendor, title, artist string) []byte {
	t.Helper()

	buf := make([]byte, 0, 64)
	buf = append(buf, "OpusTags"...)
	buf = appendLenPrefixed(buf, []byte(vendor))

	entries := []string{"TITLE=" + title, "ARTIST=" + artist}
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(entries)))
	buf = append(buf, count...)

	for _, e := range entries {
		buf = appendLenPrefixed(buf, []byte(e))
	}
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	buf = append(buf, lenBuf...)
	return append(buf, data...)
}

// writeOpusFixture encodes numFrames of silence through a real Opus codec pair and assembles a
// standalone, valid .opus file (OpusHead, OpusTags, then one audio packet per page) in t.TempDir().
// It returns the file's path. Each page's granule position is this fixture's own running sample
// count, independent of any Engine's global timeline.
func writeOpusFixture(t *testing.T, numFrames int, title, artist string) string {
	t.Helper()

	c, err := newCodec()
	require.NoError(t, err)

	f, err := os.CreateTemp(t.TempDir(), "fixture-*.opus")
	require.NoError(t, err)
	defer f.Close()

	framer := ogg.NewFramer(1)

	_, err = f.Write(framer.Frame(ogg.OpusHead[:], 0))
	require.NoError(t, err)

	_, err = f.Write(framer.Frame(buildTagsPacket(t, "octopus-test", title, artist), 0))
	require.NoError(t, err)

	silence := make([]int16, FrameSize*Channels)

	var granule uint64
	for i := 0; i < numFrames; i++ {
		copy(c.decodeScratch[:len(silence)], silence)
		encoded, err := c.encode(FrameSize)
		require.NoError(t, err)

		granule += FrameSize
		_, err = f.Write(framer.Frame(encoded, granule))
		require.NoError(t, err)
	}

	return f.Name()
}
