package ogg

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Comments holds the parsed contents of an OpusTags packet.
type Comments struct {
	Vendor   string
	comments map[string]string
}

// Title returns the TITLE comment, if present.
func (c *Comments) Title() (string, bool) { return c.lookup("TITLE") }

// Artist returns the ARTIST comment, if present.
func (c *Comments) Artist() (string, bool) { return c.lookup("ARTIST") }

// Album returns the ALBUM comment, if present.
func (c *Comments) Album() (string, bool) { return c.lookup("ALBUM") }

// Date returns the DATE comment, if present.
func (c *Comments) Date() (string, bool) { return c.lookup("DATE") }

// Genre returns the GENRE comment, if present.
func (c *Comments) Genre() (string, bool) { return c.lookup("GENRE") }

func (c *Comments) lookup(key string) (string, bool) {
	v, ok := c.comments[key]
	return v, ok
}

// IsOpusHead reports whether packet begins with the OpusHead magic.
func IsOpusHead(packet []byte) bool {
	return len(packet) >= 8 && string(packet[:8]) == idPageSignature
}

// IsOpusTags reports whether packet begins with the OpusTags magic.
func IsOpusTags(packet []byte) bool {
	return len(packet) >= 8 && string(packet[:8]) == commentPageSignature
}

// PreSkip extracts the pre-skip field (LE u16 at byte offset 10) from an OpusHead packet.
func PreSkip(opusHead []byte) uint16 {
	if len(opusHead) < 12 {
		return 0
	}
	return binary.LittleEndian.Uint16(opusHead[10:12])
}

// ParseOpusTags parses the OpusTags packet: 8-byte magic, 4-byte LE vendor length, vendor bytes,
// 4-byte LE comment count, then that many (4-byte LE length, UTF-8 bytes) entries of the form
// KEY=VALUE. Keys are case-folded to upper-case for lookup.
func ParseOpusTags(packet []byte) (*Comments, error) {
	pos := 0

	if !IsOpusTags(packet) {
		return nil, fmt.Errorf("ogg: not an OpusTags packet")
	}
	pos += 8

	if len(packet) < pos+4 {
		return nil, fmt.Errorf("ogg: truncated vendor length")
	}
	vendorLen := int(binary.LittleEndian.Uint32(packet[pos : pos+4]))
	pos += 4

	if vendorLen < 0 || len(packet) < pos+vendorLen {
		return nil, fmt.Errorf("ogg: truncated vendor string")
	}
	if !utf8.Valid(packet[pos : pos+vendorLen]) {
		return nil, fmt.Errorf("ogg: vendor string is not valid UTF-8")
	}
	vendor := string(packet[pos : pos+vendorLen])
	pos += vendorLen

	if len(packet) < pos+4 {
		return nil, fmt.Errorf("ogg: truncated comment count")
	}
	count := binary.LittleEndian.Uint32(packet[pos : pos+4])
	pos += 4

	comments := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		if len(packet) < pos+4 {
			return nil, fmt.Errorf("ogg: truncated comment %d length", i)
		}
		clen := int(binary.LittleEndian.Uint32(packet[pos : pos+4]))
		pos += 4

		if clen < 0 || len(packet) < pos+clen {
			return nil, fmt.Errorf("ogg: truncated comment %d data", i)
		}
		if !utf8.Valid(packet[pos : pos+clen]) {
			return nil, fmt.Errorf("ogg: comment %d is not valid UTF-8", i)
		}
		entry := string(packet[pos : pos+clen])
		pos += clen

		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			key := strings.ToUpper(entry[:eq])
			comments[key] = entry[eq+1:]
		}
	}

	return &Comments{Vendor: vendor, comments: comments}, nil
}
