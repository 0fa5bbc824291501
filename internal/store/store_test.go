package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindd/pkg/logx"
)

func ptr[T any](v T) *T { return &v }

var base = time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)

func sample(owner string, at time.Time) Reminder {
	return Reminder{
		OwnerID:             owner,
		Type:                "medication",
		TriggerAt:           at,
		Enabled:             true,
		NotificationTitle:   "Medication",
		NotificationMessage: "Time to take your medication",
	}
}

func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("insert_get", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		in := sample("u1", base)
		in.Recurrence = json.RawMessage(`{"every":"day"}`)
		got, err := s.Insert(ctx, in)
		require.NoError(t, err)
		require.NotEmpty(t, got.ID)
		assert.False(t, got.CreatedAt.IsZero())

		back, err := s.Get(ctx, got.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, got.ID, back.ID)
		assert.True(t, back.TriggerAt.Equal(base))
		assert.Equal(t, "Medication", back.NotificationTitle)
		assert.JSONEq(t, `{"every":"day"}`, string(back.Recurrence))
		assert.Empty(t, back.LocalHandle)
	})

	t.Run("owner_scoped", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		got, err := s.Insert(ctx, sample("u1", base))
		require.NoError(t, err)

		_, err = s.Get(ctx, got.ID, "u2")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Update(ctx, got.ID, "u2", Patch{Enabled: ptr(false)})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, got.ID, "u2"), ErrNotFound)

		still, err := s.Get(ctx, got.ID, "u1")
		require.NoError(t, err)
		assert.True(t, still.Enabled)
	})

	t.Run("update_patch", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		got, err := s.Insert(ctx, sample("u1", base))
		require.NoError(t, err)

		up, err := s.Update(ctx, got.ID, "u1", Patch{LocalHandle: ptr("rt:1:abc")})
		require.NoError(t, err)
		assert.Equal(t, "rt:1:abc", up.LocalHandle)
		assert.True(t, up.Armed())

		later := base.Add(time.Hour)
		up, err = s.Update(ctx, got.ID, "u1", Patch{
			TriggerAt:   &later,
			Type:        ptr("water"),
			LocalHandle: ptr(""),
		})
		require.NoError(t, err)
		assert.Equal(t, "water", up.Type)
		assert.True(t, up.TriggerAt.Equal(later))
		assert.Empty(t, up.LocalHandle)
		assert.Equal(t, "Medication", up.NotificationTitle)

		back, err := s.Get(ctx, got.ID, "u1")
		require.NoError(t, err)
		assert.Empty(t, back.LocalHandle)
		assert.Equal(t, "water", back.Type)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		got, err := s.Insert(ctx, sample("u1", base))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, got.ID, "u1"))
		_, err = s.Get(ctx, got.ID, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, got.ID, "u1"), ErrNotFound)
	})

	t.Run("list_upcoming", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, off := range []time.Duration{3 * time.Hour, -time.Hour, time.Hour, 2 * time.Hour} {
			r := sample("u1", base.Add(off))
			if off == 2*time.Hour {
				r.Enabled = false
			}
			_, err := s.Insert(ctx, r)
			require.NoError(t, err)
		}
		_, err := s.Insert(ctx, sample("u2", base.Add(time.Minute)))
		require.NoError(t, err)

		got, err := s.ListUpcoming(ctx, "u1", base, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, got[0].TriggerAt.Equal(base.Add(time.Hour)))
		assert.True(t, got[1].TriggerAt.Equal(base.Add(2*time.Hour)))
		assert.False(t, got[1].Enabled)
		assert.True(t, got[2].TriggerAt.Equal(base.Add(3*time.Hour)))

		got, err = s.ListUpcoming(ctx, "u1", base, 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("list_armed", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a, err := s.Insert(ctx, sample("u1", base))
		require.NoError(t, err)
		_, err = s.Insert(ctx, sample("u2", base))
		require.NoError(t, err)
		_, err = s.Update(ctx, a.ID, "u1", Patch{LocalHandle: ptr("rt:1:x")})
		require.NoError(t, err)

		armed, err := s.ListArmed(ctx, 0)
		require.NoError(t, err)
		require.Len(t, armed, 1)
		assert.Equal(t, a.ID, armed[0].ID)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runContract(t, func(t *testing.T) Store {
		s := NewMemory()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	runContract(t, func(t *testing.T) Store {
		s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "reminders.json")}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runContract(t, func(t *testing.T) Store {
		s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("REMINDD_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("REMINDD_TEST_MONGO_URI not set")
	}
	runContract(t, func(t *testing.T) Store {
		coll := "reminders_" + filepath.Base(t.Name())
		s, err := Open(Config{Driver: "mongo", MongoURI: uri, MongoDatabase: "remindd_test", MongoCollection: coll}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() {
			ms := s.(*mongoStore)
			_ = ms.coll.Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	ctx := context.Background()

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	keep, err := s.Insert(ctx, sample("u1", base))
	require.NoError(t, err)
	gone, err := s.Insert(ctx, sample("u1", base.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, gone.ID, "u1"))
	_, err = s.Update(ctx, keep.ID, "u1", Patch{LocalHandle: ptr("rt:1:k")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s2.Close()
	back, err := s2.Get(ctx, keep.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "rt:1:k", back.LocalHandle)
	_, err = s2.Get(ctx, gone.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Insert(ctx, sample("u1", base))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "insert", se.Op)

	assert.False(t, IsRetryable(ErrNotFound))
	assert.Equal(t, ErrNotFound, wrap("get", ErrNotFound, true))

	s := NewMemory()
	require.NoError(t, s.Close())
	_, err = s.Get(context.Background(), "x", "u1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, IsRetryable(err))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreSharedPath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	ctx := context.Background()

	cli, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	srv, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	fromCLI, err := cli.Insert(ctx, sample("u1", base))
	require.NoError(t, err)
	got, err := srv.Get(ctx, fromCLI.ID, "u1")
	require.NoError(t, err, "writes from one handle are visible to the other")
	assert.Equal(t, fromCLI.TriggerAt, got.TriggerAt)

	_, err = srv.Update(ctx, fromCLI.ID, "u1", Patch{LocalHandle: ptr("rt:1:s")})
	require.NoError(t, err)
	got, err = cli.Get(ctx, fromCLI.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "rt:1:s", got.LocalHandle)

	require.NoError(t, cli.Close())
	fromSrv, err := srv.Insert(ctx, sample("u1", base.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	back, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer back.Close()
	for _, id := range []string{fromCLI.ID, fromSrv.ID} {
		_, err := back.Get(ctx, id, "u1")
		assert.NoError(t, err, id)
	}
}

func TestFileStoreSeesCompactionByOtherHandle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	ctx := context.Background()

	a, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer b.Close()
	a.(*fileStore).compactEvery = 2

	var ids []string
	for i := 0; i < 5; i++ {
		r, err := a.Insert(ctx, sample("u1", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.NoError(t, b.Delete(ctx, ids[0], "u1"))

	list, err := a.ListUpcoming(ctx, "u1", base, 10)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, ids[1], list[0].ID)
}
