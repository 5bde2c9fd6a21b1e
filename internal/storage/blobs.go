package storage

// blobs.go holds the blob service: numbered byte buffers the IDE creates,
// fills and reads back in pieces.

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/statshost/host/internal/errors"
)

// CreateBlob creates an empty blob and returns its id. Ids start at 1.
func (s *SQLiteStore) CreateBlob() (int64, error) {
	return s.CreateBlobWith(nil)
}

// CreateBlobWith creates a blob holding data.
func (s *SQLiteStore) CreateBlobWith(data []byte) (int64, error) {
	if data == nil {
		data = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO blobs (data, created_at) VALUES (?, ?)",
		data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, queryFailed("create blob", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, queryFailed("create blob", err)
	}
	return id, nil
}

// getBlob loads a blob. The caller holds s.mu.
func (s *SQLiteStore) getBlob(id int64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM blobs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.BlobNotFound(id)
	}
	if err != nil {
		return nil, queryFailed("get blob", err)
	}
	return data, nil
}

// putBlob stores data for an existing blob. The caller holds s.mu.
func (s *SQLiteStore) putBlob(id int64, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.Exec("UPDATE blobs SET data = ? WHERE id = ?", data, id); err != nil {
		return queryFailed("update blob", err)
	}
	return nil
}

// BlobSize returns the length of blob id.
func (s *SQLiteStore) BlobSize(id int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	err := s.db.QueryRow("SELECT length(data) FROM blobs WHERE id = ?", id).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.BlobNotFound(id)
	}
	if err != nil {
		return 0, queryFailed("blob size", err)
	}
	return size, nil
}

// SetBlobSize truncates blob id or extends it with zero bytes.
func (s *SQLiteStore) SetBlobSize(id, size int64) (int64, error) {
	if size < 0 {
		return 0, fmt.Errorf("blob size cannot be negative: %d", size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.getBlob(id)
	if err != nil {
		return 0, err
	}
	if int64(len(data)) >= size {
		data = data[:size]
	} else {
		data = append(data, make([]byte, size-int64(len(data)))...)
	}
	if err := s.putBlob(id, data); err != nil {
		return 0, err
	}
	return size, nil
}

// ReadBlob returns count bytes of blob id starting at pos. A count of -1
// reads to the end. Reading at or past the end returns an empty slice.
func (s *SQLiteStore) ReadBlob(id, pos, count int64) ([]byte, error) {
	if pos < 0 {
		return nil, fmt.Errorf("read position cannot be negative: %d", pos)
	}
	if count < -1 {
		return nil, fmt.Errorf("read count cannot be less than -1: %d", count)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.getBlob(id)
	if err != nil {
		return nil, err
	}
	size := int64(len(data))
	if pos >= size {
		return []byte{}, nil
	}
	end := size
	if count >= 0 && pos+count < size {
		end = pos + count
	}
	return data[pos:end], nil
}

// WriteBlob writes data into blob id at pos, growing it as needed. A pos of
// -1 appends. It returns the new size.
func (s *SQLiteStore) WriteBlob(id, pos int64, data []byte) (int64, error) {
	if pos < -1 {
		return 0, fmt.Errorf("write position cannot be less than -1: %d", pos)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.getBlob(id)
	if err != nil {
		return 0, err
	}
	if pos == -1 || pos == int64(len(blob)) {
		blob = append(blob, data...)
	} else {
		if need := pos + int64(len(data)); need > int64(len(blob)) {
			blob = append(blob, make([]byte, need-int64(len(blob)))...)
		}
		copy(blob[pos:], data)
	}
	if err := s.putBlob(id, blob); err != nil {
		return 0, err
	}
	return int64(len(blob)), nil
}

// DestroyBlobs deletes the given blobs. Unknown ids are ignored.
func (s *SQLiteStore) DestroyBlobs(ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec("DELETE FROM blobs WHERE id IN ("+placeholders+")", args...); err != nil {
		return queryFailed("destroy blobs", err)
	}
	return nil
}

// CountBlobs returns the number of live blobs.
func (s *SQLiteStore) CountBlobs() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM blobs").Scan(&n); err != nil {
		return 0, queryFailed("count blobs", err)
	}
	return n, nil
}

// ResetBlobs deletes every blob. Blobs belong to one session; a persistent
// database carries none across restarts.
func (s *SQLiteStore) ResetBlobs() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM blobs")
	if err != nil {
		return 0, queryFailed("reset blobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
