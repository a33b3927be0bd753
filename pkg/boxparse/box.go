package boxparse

import (
	"encoding/hex"

	"golang.org/x/text/encoding/charmap"
)

// Box is the header of one box found in the stream.
type Box struct {
	Type  string `json:"fourcc"`
	Start int64  `json:"start"`
	// Size includes the header; 0 means the box extends to the end of the stream.
	Size       int64  `json:"size"`
	HeaderSize int64  `json:"header_size"`
	Depth      int    `json:"depth"`
	Path       string `json:"path"`
	UserType   []byte `json:"user_type,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
}

// End returns the absolute position just past the box, or -1 when the box
// extends to the end of the stream.
func (b Box) End() int64 {
	if b.Size == 0 {
		return -1
	}
	return b.Start + b.Size
}

// BodyStart returns the absolute position of the first body byte.
func (b Box) BodyStart() int64 {
	return b.Start + b.HeaderSize
}

// Fields returns the box as a flat map, as used by filters and structured output.
func (b Box) Fields() map[string]any {
	m := map[string]any{
		"fourcc":      b.Type,
		"start":       b.Start,
		"size":        b.Size,
		"header_size": b.HeaderSize,
		"depth":       int64(b.Depth),
		"path":        b.Path,
	}
	if b.UserType != nil {
		m["user_type"] = hex.EncodeToString(b.UserType)
	}
	return m
}

// decodeFourCC decodes a box type. Box types are ISO-8859-1, which maps
// every byte to a rune, so arbitrary bytes still decode.
func decodeFourCC(raw []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return hex.EncodeToString(raw)
	}
	return string(s)
}
