// Package job implements the command-line dispatch protocol: a
// JobServer hands out command lines to connecting JobClients over a TCP
// socket, and JobClients execute them and report back.
//
// The wire format is a length-prefixed JSON frame: a 2-byte big-endian
// length followed by that many bytes of UTF-8 JSON. This mirrors the
// original implementation's struct.pack('>H', len(payload)) framing.
package job

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameLen is the largest payload a 2-byte big-endian length prefix
// can address.
const maxFrameLen = 0xFFFF

// WriteMessage encodes v as JSON and writes it to w as one length-prefixed
// frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("job: encoding message: %w", err)
	}
	if len(payload) > maxFrameLen {
		return fmt.Errorf("job: message too large (%d bytes, max %d)", len(payload), maxFrameLen)
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("job: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("job: writing frame payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r and decodes it
// into v.
func ReadMessage(r io.Reader, v any) error {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("job: reading frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("job: decoding message: %w", err)
	}
	return nil
}
