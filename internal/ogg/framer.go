// Package ogg builds and parses the Ogg container pages this broadcaster streams to listeners.
package ogg

import (
	"encoding/binary"
)

const (
	pageHeaderSize = 27

	headerTypeContinuation = 0x00
	headerTypeBOS          = 0x02
	headerTypeEOS          = 0x04

	// idPageSignature and commentPageSignature are the Ogg/Opus magic strings
	// that begin the two mandatory stream-level header packets (RFC 7845).
	idPageSignature      = "OpusHead"
	commentPageSignature = "OpusTags"
	pageSignature        = "OggS"
)

// OpusHead is the fixed 19-byte Opus identification header this broadcaster emits at the start
// of every connection: version 1, 2 channels, 0 pre-skip, 48000 Hz source rate, 0 dB gain, mapping 0.
var OpusHead = [19]byte{
	'O', 'p', 'u', 's', 'H', 'e', 'a', 'd',
	0x01,             // version
	0x02,             // channel count
	0x00, 0x00,       // pre-skip
	0x80, 0xBB, 0x00, 0x00, // sample rate (48000, LE)
	0x00, 0x00, // output gain
	0x00, // channel mapping family
}

// OpusTags builds the fixed comment header this broadcaster emits at the start of every
// connection: vendor string "Octopus", zero user comments.
func OpusTags() []byte {
	const vendor = "Octopus"
	buf := make([]byte, 8+4+len(vendor)+4)
	copy(buf[0:8], commentPageSignature)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(vendor)))
	copy(buf[12:12+len(vendor)], vendor)
	binary.LittleEndian.PutUint32(buf[12+len(vendor):], 0)
	return buf
}

// Framer wraps encoded Opus packets into self-terminating Ogg pages for one HTTP connection.
// Its serial number and page sequence counter are scoped to that connection only; nothing here
// is shared across connections.
type Framer struct {
	serial        uint32
	pageIndex     uint32
	checksumTable *[256]uint32
}

// NewFramer builds a Framer with the given connection-scoped serial number.
func NewFramer(serial uint32) *Framer {
	return &Framer{
		serial:        serial,
		checksumTable: checksumTable(),
	}
}

// HeaderPages returns the two synthetic pages (OpusHead, OpusTags) every connection must send
// first, both at granule position 0.
func (f *Framer) HeaderPages() [][]byte {
	return [][]byte{
		f.createPage(OpusHead[:], headerTypeBOS, 0),
		f.createPage(OpusTags(), headerTypeContinuation, 0),
	}
}

// Frame wraps a single encoded audio packet in one self-terminating Ogg page carrying granulePos.
func (f *Framer) Frame(packet []byte, granulePos uint64) []byte {
	return f.createPage(packet, headerTypeContinuation, granulePos)
}

func (f *Framer) createPage(payload []byte, headerType uint8, granulePos uint64) []byte {
	nSegments := (len(payload) / 255) + 1

	page := make([]byte, pageHeaderSize+len(payload)+nSegments)

	copy(page[0:], pageSignature)
	page[4] = 0 // version
	page[5] = headerType
	binary.LittleEndian.PutUint64(page[6:], granulePos)
	binary.LittleEndian.PutUint32(page[14:], f.serial)
	binary.LittleEndian.PutUint32(page[18:], f.pageIndex)
	page[26] = uint8(nSegments)

	for i := 0; i < nSegments-1; i++ {
		page[pageHeaderSize+i] = 255
	}
	page[pageHeaderSize+nSegments-1] = uint8(len(payload) % 255)

	copy(page[pageHeaderSize+nSegments:], payload)

	var checksum uint32
	for _, b := range page {
		checksum = (checksum << 8) ^ f.checksumTable[byte(checksum>>24)^b]
	}
	binary.LittleEndian.PutUint32(page[22:], checksum)

	f.pageIndex++

	return page
}

// checksumTable builds the CRC-32 lookup table Ogg pages use (polynomial 0x04c11db7, not
// reflected). This doesn't match any hash/crc32 preset table, so it's built by hand.
func checksumTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
			table[i] = r
		}
	}
	return &table
}
