// Package useractor serializes a user's file catalog behind one goroutine.
// Each user gets an actor owning its own sqlite database, so writes within a
// user are ordered while different users proceed in parallel.
package useractor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/weblinq/weblinq-go/internal/artifacts"
	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/ids"
	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/types"
)

const migration = `
CREATE TABLE IF NOT EXISTS permanent_files (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	source_url    TEXT NOT NULL,
	filename      TEXT NOT NULL,
	object_key    TEXT NOT NULL,
	public_url    TEXT NOT NULL,
	metadata_json TEXT,
	created_at    TEXT NOT NULL,
	expires_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_permanent_files_kind ON permanent_files(kind);
CREATE INDEX IF NOT EXISTS idx_permanent_files_created_at ON permanent_files(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_permanent_files_expires_at ON permanent_files(expires_at);
`

// Storage is the slice of the artifact store the actor needs. A nil Storage
// puts the actor in degraded mode: reads answer, writes refuse.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Actor owns one user's catalog. All database access happens on the actor
// goroutine; exported methods enqueue work and wait for the reply.
type Actor struct {
	userID   string
	userHash string
	db       *sql.DB
	store    Storage
	clk      clock.Clock
	reqCh    chan func()
	done     chan struct{}
}

func newActor(userID, userHash, dataDir string, store Storage, clk clock.Clock) *Actor {
	a := &Actor{
		userID:   userID,
		userHash: userHash,
		store:    store,
		clk:      clk,
		reqCh:    make(chan func(), 16),
		done:     make(chan struct{}),
	}

	db, err := openDB(filepath.Join(dataDir, userHash+".db"))
	if err != nil {
		// Degraded: the actor still answers, but the catalog is empty and
		// writes refuse. A broken disk must not take the gateway down.
		log.Error().Err(err).Str("user_hash", userHash).Msg("File catalog unavailable, running degraded")
	} else {
		a.db = db
	}

	go a.run()
	return a
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// One writer per catalog; the actor serializes access anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(migration); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return db, nil
}

func (a *Actor) run() {
	defer close(a.done)
	for fn := range a.reqCh {
		fn()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// call runs fn on the actor goroutine and waits for it. The context guards
// both the enqueue and the wait.
func (a *Actor) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case a.reqCh <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record uploads artifact bytes and inserts the catalog row. Upload comes
// first so a storage failure surfaces before anything is recorded; the
// caller never gets a row pointing at a missing object.
func (a *Actor) Record(ctx context.Context, kind, sourceURL string, data []byte, metadata json.RawMessage, format string) (*types.FileRecord, error) {
	if a.db == nil || a.store == nil {
		return nil, types.ErrStorageDisabled
	}

	ext := format
	if kind == types.FileKindPDF {
		ext = "pdf"
	} else if ext == "" {
		ext = "png"
	}

	createdAt := a.clk.Now().UTC()
	rec := &types.FileRecord{
		ID:        ids.FileID(a.userID, kind, sourceURL, createdAt),
		Kind:      kind,
		SourceURL: sourceURL,
		Filename:  ids.Filename(sourceURL, createdAt, ext),
		Metadata:  metadata,
		CreatedAt: createdAt,
	}
	rec.ObjectKey = ids.ObjectKey(kind, a.userHash, createdAt, rec.Filename)
	rec.PublicURL = a.store.PublicURL(rec.ObjectKey)

	if err := a.store.Put(ctx, rec.ObjectKey, data, artifacts.ContentType(kind, ext)); err != nil {
		return nil, err
	}

	var insertErr error
	err := a.call(ctx, func() {
		_, insertErr = a.db.Exec(
			`INSERT INTO permanent_files (id, kind, source_url, filename, object_key, public_url, metadata_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Kind, rec.SourceURL, rec.Filename, rec.ObjectKey, rec.PublicURL,
			nullableJSON(rec.Metadata), rec.CreatedAt.Format(time.RFC3339Nano),
		)
	})
	if err != nil {
		return nil, err
	}
	if insertErr != nil {
		return nil, fmt.Errorf("insert file record: %w", insertErr)
	}

	metrics.ArtifactsStored.WithLabelValues(kind).Inc()
	log.Info().
		Str("file_id", rec.ID).
		Str("kind", kind).
		Str("object_key", rec.ObjectKey).
		Int("bytes", len(data)).
		Msg("Artifact recorded")
	return rec, nil
}

// Get returns one record by id, or ErrFileNotFound.
func (a *Actor) Get(ctx context.Context, fileID string) (*types.FileRecord, error) {
	if a.db == nil {
		return nil, types.ErrFileNotFound
	}

	var (
		rec     *types.FileRecord
		callErr error
	)
	err := a.call(ctx, func() {
		rec, callErr = a.scanOne(fileID)
	})
	if err != nil {
		return nil, err
	}
	return rec, callErr
}

// List pages through the catalog. Sort inputs were whitelist-coerced by
// Normalize, so interpolating them into the query is safe.
func (a *Actor) List(ctx context.Context, q types.FileListQuery) (*types.FileListData, error) {
	q.Normalize()
	data := &types.FileListData{Files: []types.FileRecord{}}
	if a.db == nil {
		return data, nil
	}

	var callErr error
	err := a.call(ctx, func() {
		where, args := kindFilter(q.Kind)

		if callErr = a.db.QueryRow("SELECT COUNT(*) FROM permanent_files"+where, args...).Scan(&data.TotalFiles); callErr != nil {
			return
		}

		query := fmt.Sprintf(
			"SELECT id, kind, source_url, filename, object_key, public_url, metadata_json, created_at FROM permanent_files%s ORDER BY %s %s LIMIT ? OFFSET ?",
			where, q.SortBy, q.Order,
		)
		rows, err := a.db.Query(query, append(args, q.Limit, q.Offset)...)
		if err != nil {
			callErr = err
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				callErr = err
				return
			}
			data.Files = append(data.Files, *rec)
		}
		callErr = rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, fmt.Errorf("list files: %w", callErr)
	}

	data.HasMore = q.Offset+len(data.Files) < data.TotalFiles
	return data, nil
}

// Count returns how many records the user has, optionally for one kind.
func (a *Actor) Count(ctx context.Context, kind string) (int, error) {
	if a.db == nil {
		return 0, nil
	}

	var (
		n       int
		callErr error
	)
	err := a.call(ctx, func() {
		where, args := kindFilter(kind)
		callErr = a.db.QueryRow("SELECT COUNT(*) FROM permanent_files"+where, args...).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	if callErr != nil {
		return 0, fmt.Errorf("count files: %w", callErr)
	}
	return n, nil
}

// Delete removes the record and, when requested, its stored object. The
// storage delete is best-effort: a failure is logged, never rolled back.
func (a *Actor) Delete(ctx context.Context, fileID string, alsoFromStorage bool) (*types.DeleteFileData, error) {
	res := &types.DeleteFileData{}
	if a.db == nil {
		return res, nil
	}

	var callErr error
	err := a.call(ctx, func() {
		rec, err := a.scanOne(fileID)
		if err == types.ErrFileNotFound {
			return
		}
		if err != nil {
			callErr = err
			return
		}

		res.Found = true
		res.Record = rec
		if _, err := a.db.Exec("DELETE FROM permanent_files WHERE id = ?", fileID); err != nil {
			callErr = err
			return
		}
		res.DeletedFromDB = true
	})
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, fmt.Errorf("delete file: %w", callErr)
	}

	if res.DeletedFromDB && alsoFromStorage && a.store != nil {
		if err := a.store.Delete(ctx, res.Record.ObjectKey); err != nil {
			log.Warn().Err(err).Str("file_id", fileID).Str("object_key", res.Record.ObjectKey).
				Msg("Storage delete failed, record already removed")
		} else {
			res.DeletedFromStorage = true
		}
	}
	return res, nil
}

// scanOne runs on the actor goroutine only.
func (a *Actor) scanOne(fileID string) (*types.FileRecord, error) {
	row := a.db.QueryRow(
		"SELECT id, kind, source_url, filename, object_key, public_url, metadata_json, created_at FROM permanent_files WHERE id = ?",
		fileID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return rec, nil
}

func (a *Actor) close() {
	close(a.reqCh)
	<-a.done
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.FileRecord, error) {
	var (
		rec       types.FileRecord
		meta      sql.NullString
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.SourceURL, &rec.Filename, &rec.ObjectKey, &rec.PublicURL, &meta, &createdAt); err != nil {
		return nil, err
	}
	if meta.Valid {
		rec.Metadata = json.RawMessage(meta.String)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = ts
	return &rec, nil
}

func kindFilter(kind string) (string, []any) {
	if kind == "" {
		return "", nil
	}
	return " WHERE kind = ?", []any{kind}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
