// Package wire implements the length-prefixed record framing used on every
// peer-to-peer socket: a 4-byte big-endian length followed by that many
// payload bytes. The PING identity is not part of framing — it is carried
// inside the decoded payload's codec field (see internal/codec).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// LengthPrefixSize is the size in bytes of a record's length header.
const LengthPrefixSize = 4

// MaxFrameSize bounds a single record's payload, guarding against a
// corrupt or hostile length header forcing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame encodes payload as a length-prefixed record and writes it to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed record from r, blocking (looping
// internally over short reads, the HEADER/BODY state machine's effect)
// until the full header and payload have arrived or r errors.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds max %d", n, MaxFrameSize)
	}
	if n == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// Scan reads frames from r until onFrame returns an error or r returns one
// (including io.EOF, which Scan returns unwrapped so callers can tell a
// clean close apart from a mid-frame error).
func Scan(r io.Reader, onFrame func(payload []byte) error) error {
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			return err
		}
		if err := onFrame(payload); err != nil {
			return err
		}
	}
}
