package recording

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"rillnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RoundTripsRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "room-1", "rec-1", 32*1024, 0)
	require.NoError(t, err)

	require.NoError(t, w.WriteRTP(domain.TrackVideo, []byte{1, 2, 3}))
	require.NoError(t, w.WriteRTP(domain.TrackAudio, []byte{4, 5}))
	require.NoError(t, w.WriteRTP(domain.TrackScreen, []byte{6}))
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, "room-1", "rec-1.lrr"))
	require.NoError(t, err)
	defer f.Close()

	r, err := OpenReader(f)
	require.NoError(t, err)

	rec1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.TrackVideo, rec1.Kind)
	assert.Equal(t, []byte{1, 2, 3}, rec1.Packet)

	rec2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.TrackAudio, rec2.Kind)
	assert.Equal(t, []byte{4, 5}, rec2.Packet)

	rec3, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.TrackScreen, rec3.Kind)
	assert.Equal(t, []byte{6}, rec3.Packet)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWriter_TimestampsAreMonotonicNonDecreasing(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "room-2", "rec-1", 32*1024, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteRTP(domain.TrackVideo, []byte{byte(i)}))
	}
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, "room-2", "rec-1.lrr"))
	require.NoError(t, err)
	defer f.Close()

	r, err := OpenReader(f)
	require.NoError(t, err)

	var last int64
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.RelativeUs, last)
		last = rec.RelativeUs
	}
}

func TestOpenReader_RejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.lrr")
	require.NoError(t, os.WriteFile(path, []byte("NOTALRR1FILEXX"), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = OpenReader(f)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestManager_WriteRTP_NoopWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{Enabled: false, BaseDir: dir, FlushBatchSize: 32 * 1024}, nil)

	m.WriteRTP("room-1", "peer-1", domain.TrackVideo, []byte{1, 2, 3})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_WriteRTP_CreatesFileLazily(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{Enabled: true, BaseDir: dir, FlushBatchSize: 32 * 1024}, nil)

	m.WriteRTP("room-1", "peer-1", domain.TrackVideo, []byte{1, 2, 3})
	m.CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "room-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
