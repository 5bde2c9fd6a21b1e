package host

import (
	"math"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/wire"
)

// BlobStore is the storage behind the blob service. *storage.SQLiteStore
// implements it.
type BlobStore interface {
	CreateBlob() (int64, error)
	BlobSize(id int64) (int64, error)
	SetBlobSize(id, size int64) (int64, error)
	ReadBlob(id, pos, count int64) ([]byte, error)
	WriteBlob(id, pos int64, data []byte) (int64, error)
	DestroyBlobs(ids ...int64) error
	CountBlobs() (int, error)
}

// Blob handlers run on the transport goroutine. Any failure, including an
// unknown blob id, is fatal to the connection.
func (h *Host) registerBlobHandlers() {
	h.engine.Handle("?CreateBlob", h.createBlob)
	h.engine.Handle("?GetBlobSize", h.getBlobSize)
	h.engine.Handle("!SetBlobSize", h.setBlobSize)
	h.engine.Handle("?ReadBlob", h.readBlob)
	h.engine.Handle("!WriteBlob", h.writeBlob)
	h.engine.Handle("!DestroyBlob", h.destroyBlobs)
}

// intArg decodes argument i as a whole number.
func intArg(msg *wire.Message, i int, what string) (int64, error) {
	var f float64
	if err := msg.Arg(i, &f); err != nil {
		return 0, apperrors.Violation("%s: non-numeric %s", msg.Name[1:], what)
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, apperrors.Violation("%s: %s must be a whole number, got %v", msg.Name[1:], what, f)
	}
	return int64(f), nil
}

// blobFailure makes a store error fatal, naming the operation.
func blobFailure(msg *wire.Message, err error) error {
	if apperrors.IsCode(err, apperrors.CodeStorageBlobNotFound) {
		return apperrors.Wrap(apperrors.CodeProtocolViolation, msg.Name[1:], err)
	}
	return apperrors.Wrap(apperrors.GetCode(err), msg.Name[1:], err)
}

func (h *Host) updateBlobCount() {
	if n, err := h.blobs.CountBlobs(); err == nil {
		h.metrics.SetBlobs(n)
	}
}

func (h *Host) createBlob(msg *wire.Message) error {
	id, err := h.blobs.CreateBlob()
	if err != nil {
		return blobFailure(msg, err)
	}
	h.updateBlobCount()
	return h.engine.Respond(msg, []any{id})
}

func (h *Host) getBlobSize(msg *wire.Message) error {
	id, err := intArg(msg, 0, "blob id")
	if err != nil {
		return err
	}
	size, err := h.blobs.BlobSize(id)
	if err != nil {
		return blobFailure(msg, err)
	}
	return h.engine.Respond(msg, []any{size})
}

func (h *Host) setBlobSize(msg *wire.Message) error {
	id, err := intArg(msg, 0, "blob id")
	if err != nil {
		return err
	}
	size, err := intArg(msg, 1, "blob size")
	if err != nil {
		return err
	}
	if size < 0 {
		return apperrors.Violation("SetBlobSize: size cannot be < 0")
	}
	if _, err := h.blobs.SetBlobSize(id, size); err != nil {
		return blobFailure(msg, err)
	}
	return nil
}

func (h *Host) readBlob(msg *wire.Message) error {
	id, err := intArg(msg, 0, "blob id")
	if err != nil {
		return err
	}
	pos, err := intArg(msg, 1, "position")
	if err != nil {
		return err
	}
	if pos < 0 {
		return apperrors.Violation("ReadBlob: position cannot be < 0")
	}
	count, err := intArg(msg, 2, "byte count")
	if err != nil {
		return err
	}
	if count < -1 {
		return apperrors.Violation("ReadBlob: byte count cannot be < -1")
	}
	data, err := h.blobs.ReadBlob(id, pos, count)
	if err != nil {
		return blobFailure(msg, err)
	}
	return h.engine.Respond(msg, nil, data)
}

func (h *Host) writeBlob(msg *wire.Message) error {
	id, err := intArg(msg, 0, "blob id")
	if err != nil {
		return err
	}
	pos, err := intArg(msg, 1, "position")
	if err != nil {
		return err
	}
	if pos < -1 {
		return apperrors.Violation("WriteBlob: position cannot be < -1")
	}
	if len(msg.Blobs) != 1 {
		return apperrors.Violation("WriteBlob: exactly one blob expected, got %d", len(msg.Blobs))
	}
	if _, err := h.blobs.WriteBlob(id, pos, msg.Blobs[0]); err != nil {
		return blobFailure(msg, err)
	}
	return nil
}

func (h *Host) destroyBlobs(msg *wire.Message) error {
	ids := make([]int64, len(msg.Args))
	for i := range msg.Args {
		id, err := intArg(msg, i, "blob id")
		if err != nil {
			return err
		}
		ids[i] = id
	}
	if err := h.blobs.DestroyBlobs(ids...); err != nil {
		return blobFailure(msg, err)
	}
	h.updateBlobCount()
	return nil
}
