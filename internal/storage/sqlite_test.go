package storage

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/statshost/host/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestNewSQLiteStore verifies that a fresh database is fully migrated.
func TestNewSQLiteStore(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}

	n, err := store.CountBlobs()
	if err != nil {
		t.Fatalf("CountBlobs failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no blobs, got %d", n)
	}
}

// TestReopenKeepsSchema verifies migrations are not re-applied to an
// existing database file.
func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.db")

	store, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	id, err := store.CreateBlobWith([]byte("keep"))
	if err != nil {
		t.Fatalf("CreateBlobWith failed: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer store.Close()

	got, err := store.ReadBlob(id, 0, -1)
	if err != nil {
		t.Fatalf("ReadBlob failed: %v", err)
	}
	if string(got) != "keep" {
		t.Errorf("blob = %q, want %q", got, "keep")
	}

	removed, err := store.ResetBlobs()
	if err != nil {
		t.Fatalf("ResetBlobs failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("ResetBlobs removed %d, want 1", removed)
	}
}

func TestCreateBlob_SequentialIDs(t *testing.T) {
	store := newTestStore(t)

	first, err := store.CreateBlob()
	if err != nil {
		t.Fatalf("CreateBlob failed: %v", err)
	}
	second, err := store.CreateBlob()
	if err != nil {
		t.Fatalf("CreateBlob failed: %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", first, second)
	}

	size, err := store.BlobSize(first)
	if err != nil {
		t.Fatalf("BlobSize failed: %v", err)
	}
	if size != 0 {
		t.Errorf("new blob size = %d, want 0", size)
	}
}

func TestReadBlob(t *testing.T) {
	store := newTestStore(t)
	id, err := store.CreateBlobWith([]byte("0123456789"))
	if err != nil {
		t.Fatalf("CreateBlobWith failed: %v", err)
	}

	tests := []struct {
		name       string
		pos, count int64
		want       string
	}{
		{"all", 0, -1, "0123456789"},
		{"prefix", 0, 4, "0123"},
		{"middle", 3, 4, "3456"},
		{"rest from position", 6, -1, "6789"},
		{"count past end", 8, 10, "89"},
		{"at end", 10, 5, ""},
		{"past end", 20, -1, ""},
		{"zero count", 2, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ReadBlob(id, tt.pos, tt.count)
			if err != nil {
				t.Fatalf("ReadBlob failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("ReadBlob(%d, %d) = %q, want %q", tt.pos, tt.count, got, tt.want)
			}
		})
	}
}

func TestReadBlob_InvalidArguments(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.CreateBlob()

	if _, err := store.ReadBlob(id, -1, 1); err == nil {
		t.Error("expected error for negative position")
	}
	if _, err := store.ReadBlob(id, 0, -2); err == nil {
		t.Error("expected error for count below -1")
	}
}

func TestWriteBlob(t *testing.T) {
	tests := []struct {
		name     string
		initial  string
		pos      int64
		data     string
		want     string
		wantSize int64
	}{
		{"append", "abc", -1, "def", "abcdef", 6},
		{"append at size", "abc", 3, "de", "abcde", 5},
		{"overwrite", "abcdef", 1, "XY", "aXYdef", 6},
		{"overwrite and grow", "abc", 2, "XYZ", "abXYZ", 5},
		{"gap is zero filled", "ab", 4, "Z", "ab\x00\x00Z", 5},
		{"into empty", "", -1, "hello", "hello", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			id, err := store.CreateBlobWith([]byte(tt.initial))
			if err != nil {
				t.Fatalf("CreateBlobWith failed: %v", err)
			}

			size, err := store.WriteBlob(id, tt.pos, []byte(tt.data))
			if err != nil {
				t.Fatalf("WriteBlob failed: %v", err)
			}
			if size != tt.wantSize {
				t.Errorf("size = %d, want %d", size, tt.wantSize)
			}

			got, err := store.ReadBlob(id, 0, -1)
			if err != nil {
				t.Fatalf("ReadBlob failed: %v", err)
			}
			if !bytes.Equal(got, []byte(tt.want)) {
				t.Errorf("blob = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetBlobSize(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.CreateBlobWith([]byte("abcdef"))

	if _, err := store.SetBlobSize(id, 3); err != nil {
		t.Fatalf("SetBlobSize(3) failed: %v", err)
	}
	got, _ := store.ReadBlob(id, 0, -1)
	if string(got) != "abc" {
		t.Errorf("after truncate = %q, want %q", got, "abc")
	}

	if _, err := store.SetBlobSize(id, 5); err != nil {
		t.Fatalf("SetBlobSize(5) failed: %v", err)
	}
	got, _ = store.ReadBlob(id, 0, -1)
	if !bytes.Equal(got, []byte("abc\x00\x00")) {
		t.Errorf("after extend = %q", got)
	}

	if _, err := store.SetBlobSize(id, -1); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestUnknownBlob(t *testing.T) {
	store := newTestStore(t)

	checks := map[string]func() error{
		"size": func() error { _, err := store.BlobSize(99); return err },
		"read": func() error { _, err := store.ReadBlob(99, 0, -1); return err },
		"write": func() error {
			_, err := store.WriteBlob(99, -1, []byte("x"))
			return err
		},
		"set size": func() error { _, err := store.SetBlobSize(99, 1); return err },
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			err := check()
			if !apperrors.IsCode(err, apperrors.CodeStorageBlobNotFound) {
				t.Errorf("error = %v, want code %s", err, apperrors.CodeStorageBlobNotFound)
			}
		})
	}
}

func TestDestroyBlobs(t *testing.T) {
	store := newTestStore(t)
	a, _ := store.CreateBlob()
	b, _ := store.CreateBlob()
	c, _ := store.CreateBlob()

	if err := store.DestroyBlobs(a, c, 1000); err != nil {
		t.Fatalf("DestroyBlobs failed: %v", err)
	}
	if err := store.DestroyBlobs(); err != nil {
		t.Fatalf("DestroyBlobs with no ids failed: %v", err)
	}

	n, _ := store.CountBlobs()
	if n != 1 {
		t.Errorf("CountBlobs = %d, want 1", n)
	}
	if _, err := store.BlobSize(b); err != nil {
		t.Errorf("surviving blob lookup failed: %v", err)
	}
	if _, err := store.BlobSize(a); !apperrors.IsCode(err, apperrors.CodeStorageBlobNotFound) {
		t.Errorf("destroyed blob still present: %v", err)
	}
}

// TestConcurrentAppends verifies that appends from several goroutines are
// not lost.
func TestConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.CreateBlob()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.WriteBlob(id, -1, []byte{'x'}); err != nil {
					t.Errorf("WriteBlob failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	size, err := store.BlobSize(id)
	if err != nil {
		t.Fatalf("BlobSize failed: %v", err)
	}
	if size != writers*perWriter {
		t.Errorf("size = %d, want %d", size, writers*perWriter)
	}
}

func TestRenderLog(t *testing.T) {
	store := newTestStore(t)

	recs := []RenderRecord{
		{DeviceID: "dev-1", PlotID: "p1", Path: "/tmp/p1.png", Width: 640, Height: 480, Bytes: 1200},
		{DeviceID: "dev-1", Placeholder: true},
		{DeviceID: "dev-2", PlotID: "p9", Path: "/tmp/p9.png", Width: 320, Height: 240, Bytes: 800},
	}
	for _, rec := range recs {
		if err := store.RecordRender(rec); err != nil {
			t.Fatalf("RecordRender failed: %v", err)
		}
	}

	got, err := store.RecentRenders(2)
	if err != nil {
		t.Fatalf("RecentRenders failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].DeviceID != "dev-2" || got[0].PlotID != "p9" {
		t.Errorf("newest record = %+v", got[0])
	}
	if !got[1].Placeholder {
		t.Errorf("second record should be a placeholder: %+v", got[1])
	}
	if got[0].RenderedAt.IsZero() {
		t.Error("RenderedAt was not set")
	}

	if err := store.RecordRender(RenderRecord{}); err == nil {
		t.Error("expected error for record without device id")
	}
}

func TestPruneRenders(t *testing.T) {
	store := newTestStore(t)

	old := RenderRecord{DeviceID: "dev", RenderedAt: time.Now().Add(-48 * time.Hour)}
	fresh := RenderRecord{DeviceID: "dev"}
	if err := store.RecordRender(old); err != nil {
		t.Fatalf("RecordRender failed: %v", err)
	}
	if err := store.RecordRender(fresh); err != nil {
		t.Fatalf("RecordRender failed: %v", err)
	}

	n, err := store.PruneRenders(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneRenders failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}

	left, _ := store.RecentRenders(10)
	if len(left) != 1 {
		t.Errorf("%d records left, want 1", len(left))
	}
}
