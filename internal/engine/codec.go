package engine

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// codec pairs a decoder and encoder for one track's lifetime. The engine decodes every packet
// to PCM and immediately re-encodes it, so the broadcast stream is always produced by this
// engine's own encoder rather than forwarding the source file's packets verbatim.
type codec struct {
	dec *opus.Decoder
	enc *opus.Encoder

	// decodeScratch is sized for the largest supported frame (1920 samples x channels), reused
	// across calls to avoid a per-packet allocation.
	decodeScratch []int16
}

func newCodec() (*codec, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("engine: opus decoder init: %w", err)
	}

	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("engine: opus encoder init: %w", err)
	}

	return &codec{
		dec:           dec,
		enc:           enc,
		decodeScratch: make([]int16, 1920*Channels),
	}, nil
}

// decode decodes one Opus packet into the scratch buffer and returns the samples-per-channel
// actually produced.
func (c *codec) decode(packet []byte) (int, error) {
	n, err := c.dec.Decode(packet, c.decodeScratch)
	if err != nil {
		return 0, fmt.Errorf("engine: opus decode: %w", err)
	}
	return n, nil
}

// encode re-encodes samplesPerChannel worth of PCM from the scratch buffer.
func (c *codec) encode(samplesPerChannel int) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := c.enc.Encode(c.decodeScratch[:samplesPerChannel*Channels], out)
	if err != nil {
		return nil, fmt.Errorf("engine: opus encode: %w", err)
	}
	return out[:n], nil
}
