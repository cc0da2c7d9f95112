package table

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{
		WithHeader("id", "value"),
		WithLockPollInterval(time.Millisecond),
	}, opts...)
	return NewStore(filepath.Join(t.TempDir(), "data.csv"), opts...)
}

func TestRead_MissingFileIsEmptyTable(t *testing.T) {
	s := newTestStore(t)

	tbl, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "value"}, tbl.Header)
	assert.Zero(t, tbl.Len())
}

func TestRead_ZeroLengthFileIsEmptyTable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), nil, 0o644))

	tbl, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "value"}, tbl.Header)
}

func TestRead_LockTimeoutReturnsEmptyTable(t *testing.T) {
	s := newTestStore(t, WithLockTimeout(20*time.Millisecond))
	require.NoError(t, os.WriteFile(s.Path(), []byte("id,value\n1,a\n"), 0o644))
	require.NoError(t, os.WriteFile(s.LockPath(), []byte("{}"), 0o644))

	tbl, err := s.Read(context.Background())
	assert.ErrorIs(t, err, apperror.ErrLockTimeout)
	require.NotNil(t, tbl)
	assert.Zero(t, tbl.Len())
}

func TestRead_StaleLockReclaimed(t *testing.T) {
	s := newTestStore(t, WithLockTimeout(time.Second), WithLockStaleAfter(time.Minute))
	require.NoError(t, os.WriteFile(s.Path(), []byte("id,value\n1,a\n"), 0o644))
	require.NoError(t, os.WriteFile(s.LockPath(), []byte("{}"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(s.LockPath(), old, old))

	tbl, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())
}

func TestWrite_AtomicReplaceAndLockReleased(t *testing.T) {
	s := newTestStore(t)
	tbl := New("id", "value")
	tbl.AppendRecord(map[string]string{"id": "1", "value": "a"})

	require.NoError(t, s.Write(context.Background(), tbl))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "id,value\n1,a\n", string(data))
	assert.NoFileExists(t, s.LockPath())

	matches, err := filepath.Glob(s.Path() + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUpdate_ErrorLeavesFileUntouched(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("id,value\n1,a\n"), 0o644))

	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tbl *Table) error {
		tbl.Set(0, "value", "changed")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "id,value\n1,a\n", string(data))
}

func TestUpdate_ConcurrentIncrementsAreSerialized(t *testing.T) {
	s := newTestStore(t, WithLockTimeout(10*time.Second))
	tbl := New("id", "value")
	tbl.AppendRecord(map[string]string{"id": "1", "value": "0"})
	require.NoError(t, s.Write(context.Background(), tbl))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(context.Background(), func(tbl *Table) error {
				n, _ := strconv.Atoi(tbl.Get(0, "value"))
				tbl.Set(0, "value", strconv.Itoa(n+1))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10", got.Get(0, "value"))
}

func TestCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRaw(ctx, []byte("id,value\r\n1,a\r\n")))

	raw, err := s.ReadRaw(ctx)
	require.NoError(t, err)
	expected := Hash(raw)

	ok, err := s.CompareAndSwap(ctx, Hash([]byte("something else")), []byte("id,value\n9,z\n"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, expected, []byte("id,value\n1,b\n"))
	require.NoError(t, err)
	assert.True(t, ok)

	raw, err = s.ReadRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id,value\n1,b\n", string(raw))
}

func TestReadRaw_MissingFile(t *testing.T) {
	s := newTestStore(t)
	raw, err := s.ReadRaw(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raw)
}
