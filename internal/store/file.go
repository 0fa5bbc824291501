package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	logx "remindd/pkg/logx"
)

const (
	lockWait  = 5 * time.Second
	lockRetry = 10 * time.Millisecond
)

var errLocked = errors.New("held by another process")

// fileStore keeps reminders in a map. With a path it also persists them:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//   - <prefix>.lock (advisory lock shared by every process using the path)
//
// Each operation holds the lock and first replays whatever other processes
// wrote since the last one, so serve and the CLI can share a path on one
// host. The journal is compacted into the snapshot every compactEvery
// writes and on Close.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu     sync.Mutex
	closed bool
	rows   map[string]Reminder

	lock         *flock.Flock
	snapshotPath string
	journalPath  string
	journal      *os.File
	snapInfo     os.FileInfo
	offset       int64 // journal bytes already applied to rows
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op       string    `json:"op"` // put | del
	ID       string    `json:"id"`
	Reminder *Reminder `json:"reminder,omitempty"`
}

// NewMemory returns a non-persistent store.
func NewMemory() Store {
	return &fileStore{log: logx.Nop(), now: time.Now, rows: map[string]Reminder{}}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		now:          time.Now,
		rows:         map[string]Reminder{},
		lock:         flock.New(prefix + ".lock"),
		snapshotPath: prefix + ".snapshot.json",
		journalPath:  prefix + ".journal.jsonl",
		compactEvery: 500,
	}
	if err := s.acquire(context.Background()); err != nil {
		return nil, wrap("open", err, true)
	}
	defer s.release()

	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	if err := s.reloadLocked(); err != nil {
		_ = jf.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) acquire(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	ok, err := s.lock.TryLockContext(lctx, lockRetry)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || !ok {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), errLocked)
	}
	return nil
}

func (s *fileStore) release() {
	if err := s.lock.Unlock(); err != nil {
		s.log.Warn("reminder store unlock failed", logx.String("path", s.lock.Path()), logx.Err(err))
	}
}

// begin takes the in-process and cross-process locks and brings rows up to
// date. The returned func releases both.
func (s *fileStore) begin(ctx context.Context, op string) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, wrap(op, ErrClosed, false)
	}
	if s.lock == nil {
		return s.mu.Unlock, nil
	}
	if err := s.acquire(ctx); err != nil {
		s.mu.Unlock()
		return nil, wrap(op, err, true)
	}
	if err := s.refreshLocked(); err != nil {
		s.release()
		s.mu.Unlock()
		return nil, wrap(op, err, true)
	}
	return func() {
		s.release()
		s.mu.Unlock()
	}, nil
}

// reloadLocked rebuilds rows from the snapshot and the whole journal.
func (s *fileStore) reloadLocked() error {
	rows := map[string]Reminder{}
	info, err := os.Stat(s.snapshotPath)
	switch {
	case err == nil:
		if err := loadSnapshot(s.snapshotPath, rows); err != nil {
			s.log.Warn("reminder snapshot unreadable", logx.String("path", s.snapshotPath), logx.Err(err))
		}
	case errors.Is(err, os.ErrNotExist):
		info = nil
	default:
		return err
	}
	off, err := replayJournal(s.journalPath, 0, rows)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.rows, s.snapInfo, s.offset = rows, info, off
	return nil
}

// refreshLocked applies writes made by other processes. A replaced snapshot
// or a shrunken journal means someone compacted; anything else is new
// journal lines past offset.
func (s *fileStore) refreshLocked() error {
	info, err := os.Stat(s.snapshotPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if !sameSnapshot(s.snapInfo, info) {
		return s.reloadLocked()
	}
	st, err := s.journal.Stat()
	if err != nil {
		return err
	}
	switch {
	case st.Size() < s.offset:
		return s.reloadLocked()
	case st.Size() > s.offset:
		off, err := replayJournal(s.journalPath, s.offset, s.rows)
		if err != nil {
			return err
		}
		s.offset = off
	}
	return nil
}

func sameSnapshot(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	if err := s.acquire(context.Background()); err != nil {
		_ = s.journal.Close()
		s.journal = nil
		return wrap("close", err, true)
	}
	defer s.release()
	err := s.refreshLocked()
	if err == nil {
		err = s.compactLocked()
	}
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Insert(ctx context.Context, r Reminder) (Reminder, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, wrap("insert", err, true)
	}
	done, err := s.begin(ctx, "insert")
	if err != nil {
		return Reminder{}, err
	}
	defer done()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, dup := s.rows[r.ID]; dup {
		return Reminder{}, wrap("insert", errors.New("duplicate id "+r.ID), false)
	}
	now := s.now().UTC()
	r.TriggerAt = r.TriggerAt.UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if err := s.appendLocked(journalRecord{Op: "put", ID: r.ID, Reminder: &r}); err != nil {
		return Reminder{}, wrap("insert", err, false)
	}
	s.rows[r.ID] = r
	return r, nil
}

func (s *fileStore) Get(ctx context.Context, id, ownerID string) (Reminder, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, wrap("get", err, true)
	}
	done, err := s.begin(ctx, "get")
	if err != nil {
		return Reminder{}, err
	}
	defer done()
	r, ok := s.rows[id]
	if !ok || r.OwnerID != ownerID {
		return Reminder{}, ErrNotFound
	}
	return r, nil
}

func (s *fileStore) Update(ctx context.Context, id, ownerID string, p Patch) (Reminder, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, wrap("update", err, true)
	}
	done, err := s.begin(ctx, "update")
	if err != nil {
		return Reminder{}, err
	}
	defer done()
	r, ok := s.rows[id]
	if !ok || r.OwnerID != ownerID {
		return Reminder{}, ErrNotFound
	}
	p.Apply(&r)
	r.UpdatedAt = s.now().UTC()
	if err := s.appendLocked(journalRecord{Op: "put", ID: id, Reminder: &r}); err != nil {
		return Reminder{}, wrap("update", err, false)
	}
	s.rows[id] = r
	return r, nil
}

func (s *fileStore) Delete(ctx context.Context, id, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return wrap("delete", err, true)
	}
	done, err := s.begin(ctx, "delete")
	if err != nil {
		return err
	}
	defer done()
	r, ok := s.rows[id]
	if !ok || r.OwnerID != ownerID {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: "del", ID: id}); err != nil {
		return wrap("delete", err, false)
	}
	delete(s.rows, id)
	return nil
}

func (s *fileStore) ListUpcoming(ctx context.Context, ownerID string, now time.Time, limit int) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("list", err, true)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	done, err := s.begin(ctx, "list")
	if err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, 8)
	for _, r := range s.rows {
		if r.OwnerID == ownerID && !r.TriggerAt.Before(now) {
			out = append(out, r)
		}
	}
	done()
	sortByTrigger(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) ListArmed(ctx context.Context, limit int) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("list_armed", err, true)
	}
	done, err := s.begin(ctx, "list_armed")
	if err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, 8)
	for _, r := range s.rows {
		if r.LocalHandle != "" {
			out = append(out, r)
		}
	}
	done()
	sortByTrigger(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByTrigger(rs []Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].TriggerAt.Equal(rs[j].TriggerAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].TriggerAt.Before(rs[j].TriggerAt)
	})
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journal == nil {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	n, err := s.journal.Write(append(b, '\n'))
	s.offset += int64(n)
	if err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort; the journal stays authoritative until truncated.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("reminder journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.journal == nil {
		return nil
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if s.snapInfo, err = os.Stat(s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.offset = 0
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]Reminder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Reminder
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies complete lines from offset on and returns the offset
// just past the last one read.
func replayJournal(path string, offset int64, out map[string]Reminder) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A torn tail from a crashed writer is skipped.
				return offset + int64(len(line)), nil
			}
			return offset, err
		}
		offset += int64(len(line))

		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Reminder != nil {
				out[rec.ID] = *rec.Reminder
			}
		case "del":
			delete(out, rec.ID)
		}
	}
}
