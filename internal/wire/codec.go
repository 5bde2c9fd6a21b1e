package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "github.com/statshost/host/internal/errors"
)

// FrameKind distinguishes the JSON envelope from blob payloads.
type FrameKind byte

const (
	FrameJSON FrameKind = 0
	FrameBlob FrameKind = 1
)

// Frame is one transport-level unit.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Encode serializes m into its JSON frame followed by one frame per blob.
func Encode(m *Message) ([]Frame, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("message name must not be empty")
	}

	header := []any{FormatID(m.ID), m.Name, len(m.Blobs)}
	if m.IsResponse() {
		header = append(header, FormatID(m.RequestID))
	}

	envelope := make([]any, 0, len(m.Args)+1)
	envelope = append(envelope, header)
	for _, a := range m.Args {
		envelope = append(envelope, a)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Name, err)
	}

	frames := make([]Frame, 0, len(m.Blobs)+1)
	frames = append(frames, Frame{Kind: FrameJSON, Data: data})
	for _, b := range m.Blobs {
		frames = append(frames, Frame{Kind: FrameBlob, Data: b})
	}
	return frames, nil
}

// decodeEnvelope parses the JSON frame of a message coming from the peer.
// It returns the message without blobs and the number of blob frames that
// follow.
func decodeEnvelope(data []byte) (*Message, int, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, 0, apperrors.Violation("message is not a JSON array: %v", err)
	}
	if len(envelope) == 0 {
		return nil, 0, apperrors.Violation("message has no header")
	}

	var header []json.RawMessage
	if err := json.Unmarshal(envelope[0], &header); err != nil {
		return nil, 0, apperrors.Violation("message header is not an array: %v", err)
	}
	if len(header) != 3 && len(header) != 4 {
		return nil, 0, apperrors.Violation("message header has %d elements", len(header))
	}

	id, err := parseID(header[0])
	if err != nil {
		return nil, 0, apperrors.Violation("message id: %v", err)
	}

	var name string
	if err := json.Unmarshal(header[1], &name); err != nil || name == "" {
		return nil, 0, apperrors.Violation("message name must be a non-empty string")
	}

	var blobCount int
	if err := json.Unmarshal(header[2], &blobCount); err != nil || blobCount < 0 {
		return nil, 0, apperrors.Violation("%s: invalid blob count %s", name, header[2])
	}

	m := &Message{ID: id, Name: name, Args: envelope[1:]}
	switch {
	case len(header) == 4:
		if name[0] != PrefixResponse {
			return nil, 0, apperrors.Violation("%s: request id on a non-response", name)
		}
		rid, err := parseID(header[3])
		if err != nil {
			return nil, 0, apperrors.Violation("%s: request id: %v", name, err)
		}
		if rid == 0 || rid == RequestMarker {
			return nil, 0, apperrors.Violation("%s: invalid request id %d", name, rid)
		}
		m.RequestID = rid
	case name[0] == PrefixResponse:
		return nil, 0, apperrors.Violation("%s: response without request id", name)
	case name[0] == PrefixRequest:
		m.RequestID = RequestMarker
		if blobCount > 0 {
			return nil, 0, apperrors.Violation("%s: requests from the client cannot carry blobs", name)
		}
	}

	return m, blobCount, nil
}

func parseID(raw json.RawMessage) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}
	return strconv.ParseUint(text, 10, 64)
}
