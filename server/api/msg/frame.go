package msg

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Frames on the message socket are a 4-byte big-endian length prefix
// followed by a JSON body of that many bytes.

const (
	frameHeaderSize = 4

	// MaxFrameSize caps the body of a single frame. Workflow submissions
	// are the largest bodies seen in practice and stay far below this.
	MaxFrameSize = 32 << 20
)

// WriteFrame encodes v as JSON and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "error encoding frame body")
	}
	if len(body) > MaxFrameSize {
		return errors.Errorf("error frame body of %d bytes exceeds the %d byte limit", len(body), MaxFrameSize)
	}
	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)
	if _, err := w.Write(frame); err != nil {
		return errors.Wrap(err, "error writing frame")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its body.
// Returns io.EOF unwrapped when the connection closes cleanly between
// frames, so callers can tell a hangup from a truncated frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "error reading frame header")
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, errors.Errorf("error frame body of %d bytes exceeds the %d byte limit", length, MaxFrameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "error reading frame body")
	}
	return body, nil
}
