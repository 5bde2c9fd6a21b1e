package wire

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/statshost/host/internal/errors"
)

type frameQueue struct {
	frames []Frame
}

func (q *frameQueue) ReadFrame() (Frame, error) {
	if len(q.frames) == 0 {
		return Frame{}, io.EOF
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, nil
}

func (q *frameQueue) WriteFrames(frames ...Frame) error {
	q.frames = append(q.frames, frames...)
	return nil
}

func jsonFrame(s string) Frame { return Frame{Kind: FrameJSON, Data: []byte(s)} }

func TestEncode_EvalResponse(t *testing.T) {
	m, err := New(2, 1, ":=", []any{"OK", nil, 2})
	require.NoError(t, err)

	frames, err := Encode(m)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, `[["2",":=",0,"1"],"OK",null,2]`, string(frames[0].Data))
}

func TestEncode_NotificationWithBlobs(t *testing.T) {
	m, err := New(4, 0, "!Plot", []any{"dev"}, []byte{1, 2, 3})
	require.NoError(t, err)

	frames, err := Encode(m)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, `[["4","!Plot",1],"dev"]`, string(frames[0].Data))
	assert.Equal(t, FrameBlob, frames[1].Kind)
	assert.Equal(t, []byte{1, 2, 3}, frames[1].Data)
}

func TestEncode_RequestOmitsRequestID(t *testing.T) {
	m, err := New(6, RequestMarker, "?Locator", []any{"dev"})
	require.NoError(t, err)

	frames, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, `[["6","?Locator",0],"dev"]`, string(frames[0].Data))
}

func TestRead_EvalRequest(t *testing.T) {
	q := &frameQueue{frames: []Frame{jsonFrame(`[["1","?=/",0],"=1+1"]`)}}

	m, err := Read(q)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, "?=/", m.Name)
	assert.True(t, m.IsRequest())

	var expr string
	require.NoError(t, m.Arg(0, &expr))
	assert.Equal(t, "=1+1", expr)
}

func TestRead_ResponseAndNotification(t *testing.T) {
	q := &frameQueue{frames: []Frame{
		jsonFrame(`[["3",":Locator",0,"6"],true,1.5,2]`),
		jsonFrame(`[["5","!/",0],null]`),
	}}

	resp, err := Read(q)
	require.NoError(t, err)
	assert.True(t, resp.IsResponse())
	assert.Equal(t, uint64(6), resp.RequestID)

	cancel, err := Read(q)
	require.NoError(t, err)
	assert.True(t, cancel.IsNotification())
	assert.True(t, cancel.IsNullArg(0))
}

func TestRead_NotificationBlobs(t *testing.T) {
	q := &frameQueue{frames: []Frame{
		jsonFrame(`[["7","!WriteBlob",2],1,-1]`),
		{Kind: FrameBlob, Data: []byte("ab")},
		{Kind: FrameBlob, Data: []byte("cd")},
	}}

	m, err := Read(q)
	require.NoError(t, err)
	require.Len(t, m.Blobs, 2)
	assert.Equal(t, "cd", string(m.Blobs[1]))
}

func TestRead_Violations(t *testing.T) {
	tests := []struct {
		name   string
		frames []Frame
	}{
		{"not json", []Frame{jsonFrame(`{`)}},
		{"object", []Frame{jsonFrame(`{"id":1}`)}},
		{"empty array", []Frame{jsonFrame(`[]`)}},
		{"short header", []Frame{jsonFrame(`[["1","?="]]`)}},
		{"bad id", []Frame{jsonFrame(`[["x","!a",0]]`)}},
		{"empty name", []Frame{jsonFrame(`[["1","",0]]`)}},
		{"negative blobs", []Frame{jsonFrame(`[["1","!a",-1]]`)}},
		{"response without request id", []Frame{jsonFrame(`[["1",":=",0]]`)}},
		{"request id on request", []Frame{jsonFrame(`[["1","?=",0,"3"]]`)}},
		{"request with blob", []Frame{jsonFrame(`[["1","?=",1],"x"]`), {Kind: FrameBlob, Data: []byte("z")}}},
		{"leading blob", []Frame{{Kind: FrameBlob, Data: []byte("z")}}},
		{"json where blob expected", []Frame{jsonFrame(`[["1","!a",1]]`), jsonFrame(`[["2","!b",0]]`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(&frameQueue{frames: tt.frames})
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolViolation), "got %v", err)
		})
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	q := &frameQueue{}
	out, err := New(10, 0, "!Plot", []any{"d", map[string]int{"n": 1}}, []byte("png"))
	require.NoError(t, err)
	require.NoError(t, Write(q, out))

	in, err := Read(q)
	require.NoError(t, err)
	assert.Equal(t, out.ID, in.ID)
	assert.Equal(t, out.Name, in.Name)
	assert.Equal(t, out.Blobs, in.Blobs)

	var payload map[string]int
	require.NoError(t, in.Arg(1, &payload))
	assert.Equal(t, 1, payload["n"])
}

func TestResponseName(t *testing.T) {
	assert.Equal(t, ":=", ResponseName("?=/"))
	assert.Equal(t, ":=", ResponseName("?=B@r"))
	assert.Equal(t, ":Locator", ResponseName("?Locator"))
	assert.Equal(t, ":CreateBlob", ResponseName("?CreateBlob"))
}

func TestArg_Missing(t *testing.T) {
	m := &Message{Name: "!x", Args: []json.RawMessage{json.RawMessage(`1`)}}
	var v int
	assert.Error(t, m.Arg(1, &v))
	assert.NoError(t, m.Arg(0, &v))
	assert.Equal(t, 1, v)
}
