package exifmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	soiMarker = []byte{0xFF, 0xD8}

	exifHeader = []byte("Exif\x00\x00")
	xmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
)

var errNotJPEG = errors.New("not a JPEG stream")

// segment is one raw JPEG marker segment, including the two marker bytes
// and the length field.
type segment struct {
	marker byte
	raw    []byte
}

// scanSegments walks the JPEG marker segments up to (and excluding) SOS.
func scanSegments(data []byte) ([]segment, error) {
	if !bytes.HasPrefix(data, soiMarker) {
		return nil, errNotJPEG
	}
	var segs []segment
	off := 2
	for off+4 <= len(data) {
		if data[off] != 0xFF {
			return nil, errNotJPEG
		}
		marker := data[off+1]
		if marker == 0xDA { // SOS, compressed data follows
			break
		}
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		end := off + 2 + length
		if length < 2 || end > len(data) {
			return nil, errNotJPEG
		}
		segs = append(segs, segment{marker: marker, raw: data[off:end]})
		off = end
	}
	return segs, nil
}

// exifSegment returns the raw APP1 Exif segment of a JPEG, or nil.
func exifSegment(data []byte) []byte {
	segs, err := scanSegments(data)
	if err != nil {
		return nil
	}
	for _, s := range segs {
		if s.marker == 0xE1 && bytes.HasPrefix(s.raw[4:], exifHeader) {
			return s.raw
		}
	}
	return nil
}

// xmpPacket returns the XMP payload of a JPEG (the XML text after the APP1
// XMP namespace header), or nil.
func xmpPacket(data []byte) []byte {
	segs, err := scanSegments(data)
	if err != nil {
		return nil
	}
	for _, s := range segs {
		if s.marker == 0xE1 && bytes.HasPrefix(s.raw[4:], xmpHeader) {
			return s.raw[4+len(xmpHeader):]
		}
	}
	return nil
}

// SpliceEXIF returns dst with the APP1 Exif segment of src inserted right
// after SOI, replacing any Exif segment dst already carried. When src has no
// Exif segment dst is returned unchanged. Used to keep EXIF across
// re-encodes (the sd derivate, the blurred original).
func SpliceEXIF(dst, src []byte) []byte {
	seg := exifSegment(src)
	if seg == nil || !bytes.HasPrefix(dst, soiMarker) {
		return dst
	}

	stripped := dst
	if old := exifSegment(dst); old != nil {
		i := bytes.Index(dst, old)
		stripped = append(append([]byte{}, dst[:i]...), dst[i+len(old):]...)
	}

	out := make([]byte, 0, len(stripped)+len(seg))
	out = append(out, stripped[:2]...)
	out = append(out, seg...)
	out = append(out, stripped[2:]...)
	return out
}
