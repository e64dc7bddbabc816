package useractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/ids"
	"github.com/weblinq/weblinq-go/internal/types"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) PublicURL(key string) string {
	return "https://cdn.weblinq.dev/" + key
}

func (f *fakeStorage) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func newTestRegistry(t *testing.T, store Storage) (*Registry, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC))
	r := NewRegistry(t.TempDir(), store, "", clk)
	t.Cleanup(r.Close)
	return r, clk
}

func TestRecordAndGet(t *testing.T) {
	store := newFakeStorage()
	reg, clk := newTestRegistry(t, store)
	a := reg.For("user-1")
	ctx := context.Background()

	meta := json.RawMessage(`{"width":1920,"height":1080}`)
	rec, err := a.Record(ctx, types.FileKindScreenshot, "https://example.com/page", []byte("png-bytes"), meta, "png")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	createdAt := clk.Now().UTC()
	wantID := ids.FileID("user-1", types.FileKindScreenshot, "https://example.com/page", createdAt)
	if rec.ID != wantID {
		t.Errorf("id = %q, want %q", rec.ID, wantID)
	}
	if rec.Filename != "example_com_"+fmt.Sprint(createdAt.UnixMilli())+".png" {
		t.Errorf("filename = %q", rec.Filename)
	}
	if !store.has(rec.ObjectKey) {
		t.Error("artifact bytes not uploaded")
	}
	if rec.PublicURL != "https://cdn.weblinq.dev/"+rec.ObjectKey {
		t.Errorf("public_url = %q", rec.PublicURL)
	}

	got, err := a.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != rec.ID || got.ObjectKey != rec.ObjectKey || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}
	if string(got.Metadata) != string(meta) {
		t.Errorf("metadata = %s, want %s", got.Metadata, meta)
	}
}

func TestRecordPDFForcesExtension(t *testing.T) {
	store := newFakeStorage()
	reg, _ := newTestRegistry(t, store)

	rec, err := reg.For("user-1").Record(context.Background(), types.FileKindPDF, "https://example.com", []byte("%PDF-"), nil, "png")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.Filename[len(rec.Filename)-4:] != ".pdf" {
		t.Errorf("pdf filename = %q, want .pdf extension", rec.Filename)
	}
}

func TestRecordUploadFailureLeavesNoRow(t *testing.T) {
	store := newFakeStorage()
	store.putErr = errors.New("bucket offline")
	reg, _ := newTestRegistry(t, store)
	a := reg.For("user-1")
	ctx := context.Background()

	if _, err := a.Record(ctx, types.FileKindScreenshot, "https://example.com", []byte("x"), nil, "png"); err == nil {
		t.Fatal("expected upload error")
	}

	n, err := a.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d after failed upload, want 0", n)
	}
}

func TestGetUnknownFile(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeStorage())

	_, err := reg.For("user-1").Get(context.Background(), "000000000000")
	if !errors.Is(err, types.ErrFileNotFound) {
		t.Errorf("error = %v, want ErrFileNotFound", err)
	}
}

func TestListPagingAndKindFilter(t *testing.T) {
	store := newFakeStorage()
	reg, clk := newTestRegistry(t, store)
	a := reg.For("user-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.Record(ctx, types.FileKindScreenshot, fmt.Sprintf("https://shot%d.example.com", i), []byte("s"), nil, "png"); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		clk.Advance(time.Second)
	}
	if _, err := a.Record(ctx, types.FileKindPDF, "https://doc.example.com", []byte("p"), nil, ""); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	all, err := a.List(ctx, types.FileListQuery{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.TotalFiles != 4 || len(all.Files) != 4 || all.HasMore {
		t.Errorf("list all = total %d, %d files, hasMore %v", all.TotalFiles, len(all.Files), all.HasMore)
	}
	// Default order is created_at desc: the pdf was recorded last.
	if all.Files[0].Kind != types.FileKindPDF {
		t.Errorf("first record kind = %q, want newest first", all.Files[0].Kind)
	}

	page, err := a.List(ctx, types.FileListQuery{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Files) != 2 || !page.HasMore || page.TotalFiles != 4 {
		t.Errorf("page = %d files, hasMore %v, total %d", len(page.Files), page.HasMore, page.TotalFiles)
	}

	shots, err := a.List(ctx, types.FileListQuery{Kind: types.FileKindScreenshot})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if shots.TotalFiles != 3 {
		t.Errorf("screenshot total = %d, want 3", shots.TotalFiles)
	}

	// Hostile sort input is coerced, not interpolated.
	coerced, err := a.List(ctx, types.FileListQuery{SortBy: "id; DROP TABLE permanent_files", Order: "ASCENDING"})
	if err != nil {
		t.Fatalf("List() with hostile sort error = %v", err)
	}
	if coerced.TotalFiles != 4 {
		t.Errorf("total after coerced sort = %d, want 4", coerced.TotalFiles)
	}
}

func TestDeleteAlsoFromStorage(t *testing.T) {
	store := newFakeStorage()
	reg, _ := newTestRegistry(t, store)
	a := reg.For("user-1")
	ctx := context.Background()

	rec, err := a.Record(ctx, types.FileKindScreenshot, "https://example.com", []byte("x"), nil, "png")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	res, err := a.Delete(ctx, rec.ID, true)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !res.Found || !res.DeletedFromDB || !res.DeletedFromStorage {
		t.Errorf("delete result = %+v", res)
	}
	if res.Record == nil || res.Record.ID != rec.ID {
		t.Errorf("deleted record = %+v", res.Record)
	}
	if store.has(rec.ObjectKey) {
		t.Error("object still in storage")
	}

	if _, err := a.Get(ctx, rec.ID); !errors.Is(err, types.ErrFileNotFound) {
		t.Errorf("Get after delete = %v, want ErrFileNotFound", err)
	}
}

func TestDeleteStorageFailureIsBestEffort(t *testing.T) {
	store := newFakeStorage()
	reg, _ := newTestRegistry(t, store)
	a := reg.For("user-1")
	ctx := context.Background()

	rec, err := a.Record(ctx, types.FileKindScreenshot, "https://example.com", []byte("x"), nil, "png")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	store.delErr = errors.New("storage offline")
	res, err := a.Delete(ctx, rec.ID, true)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !res.DeletedFromDB || res.DeletedFromStorage {
		t.Errorf("delete result = %+v, want db deleted, storage not", res)
	}
}

func TestDeleteUnknownFile(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeStorage())

	res, err := reg.For("user-1").Delete(context.Background(), "000000000000", true)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if res.Found || res.DeletedFromDB || res.DeletedFromStorage {
		t.Errorf("delete of unknown id = %+v, want all false", res)
	}
}

func TestDegradedModeWithoutStorage(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	a := reg.For("user-1")
	ctx := context.Background()

	if _, err := a.Record(ctx, types.FileKindScreenshot, "https://example.com", []byte("x"), nil, "png"); !errors.Is(err, types.ErrStorageDisabled) {
		t.Errorf("Record without storage = %v, want ErrStorageDisabled", err)
	}

	// Reads still answer.
	list, err := a.List(ctx, types.FileListQuery{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.TotalFiles != 0 || len(list.Files) != 0 {
		t.Errorf("degraded list = %+v, want empty", list)
	}
}

func TestRegistryReturnsSameActorPerUser(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeStorage())

	if reg.For("user-a") != reg.For("user-a") {
		t.Error("same user must map to same actor")
	}
	if reg.For("user-a") == reg.For("user-b") {
		t.Error("different users must not share an actor")
	}
}

func TestUsersAreIsolatedOnDisk(t *testing.T) {
	store := newFakeStorage()
	reg, _ := newTestRegistry(t, store)
	ctx := context.Background()

	if _, err := reg.For("user-a").Record(ctx, types.FileKindScreenshot, "https://example.com", []byte("x"), nil, "png"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	list, err := reg.For("user-b").List(ctx, types.FileListQuery{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.TotalFiles != 0 {
		t.Errorf("user-b sees %d files from user-a", list.TotalFiles)
	}
}
