package wire

import (
	apperrors "github.com/statshost/host/internal/errors"
)

// FrameReader yields frames in wire order.
type FrameReader interface {
	ReadFrame() (Frame, error)
}

// FrameWriter writes a group of frames atomically.
type FrameWriter interface {
	WriteFrames(frames ...Frame) error
}

// Read assembles the next complete message: one JSON frame and the blob
// frames it announces. A blob frame where a JSON frame is expected, or the
// reverse, is a protocol violation.
func Read(r FrameReader) (*Message, error) {
	f, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	if f.Kind != FrameJSON {
		return nil, apperrors.Violation("unexpected blob frame outside a message")
	}

	m, blobCount, err := decodeEnvelope(f.Data)
	if err != nil {
		return nil, err
	}

	for i := 0; i < blobCount; i++ {
		bf, err := r.ReadFrame()
		if err != nil {
			return nil, err
		}
		if bf.Kind != FrameBlob {
			return nil, apperrors.Violation("%s: expected blob %d of %d, got JSON frame", m.Name, i+1, blobCount)
		}
		m.Blobs = append(m.Blobs, bf.Data)
	}
	return m, nil
}

// Write encodes m and writes all of its frames.
func Write(w FrameWriter, m *Message) error {
	frames, err := Encode(m)
	if err != nil {
		return err
	}
	return w.WriteFrames(frames...)
}
