package checkpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/alignflow/internal/domain"
)

// fakeStore считает записи и падает failures раз подряд.
type fakeStore struct {
	mu       sync.Mutex
	puts     []string
	regions  []string
	removes  []string
	failures int
	err      error
}

func (s *fakeStore) Put(_ context.Context, _, key, region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	if s.err != nil {
		return s.err
	}
	s.puts = append(s.puts, key)
	s.regions = append(s.regions, region)
	return nil
}

func (s *fakeStore) Remove(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removes = append(s.removes, key)
	return nil
}

func testSink(store Store, retries int) *Sink {
	return NewSink(store, SinkConfig{
		RetryCount:   retries,
		RetryBackoff: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func artifactFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "out.hal")
	require.NoError(t, os.WriteFile(p, []byte("hal"), 0o644))
	return p
}

func TestMaybeCheckpoint_NoTarget(t *testing.T) {
	store := &fakeStore{}
	done, err := testSink(store, 0).MaybeCheckpoint(context.Background(), artifactFile(t), nil)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, store.puts)
}

func TestMaybeCheckpoint_Writes(t *testing.T) {
	store := &fakeStore{}
	target := &domain.CheckpointTarget{Region: "us-west-2", Key: "s3://bucket/chr1.hal"}

	done, err := testSink(store, 0).MaybeCheckpoint(context.Background(), artifactFile(t), target)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"s3://bucket/chr1.hal"}, store.puts)
	assert.Equal(t, []string{"us-west-2"}, store.regions)
}

func TestMaybeCheckpoint_RetriesTransientFailures(t *testing.T) {
	store := &fakeStore{failures: 2}
	target := &domain.CheckpointTarget{Key: "s3://bucket/chr1.hal"}

	done, err := testSink(store, 3).MaybeCheckpoint(context.Background(), artifactFile(t), target)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, store.puts, 1)
}

func TestMaybeCheckpoint_FailsAfterRetries(t *testing.T) {
	store := &fakeStore{failures: 10}
	target := &domain.CheckpointTarget{Key: "s3://bucket/chr1.hal"}

	done, err := testSink(store, 2).MaybeCheckpoint(context.Background(), artifactFile(t), target)
	require.ErrorIs(t, err, ErrCheckpointFailed)
	assert.False(t, done)
	assert.Equal(t, 7, store.failures, "one attempt plus two retries")
}

func TestMaybeCheckpoint_InvalidKeyNotRetried(t *testing.T) {
	store := &fakeStore{err: ErrInvalidKey}
	target := &domain.CheckpointTarget{Key: "gs://bucket/x.hal"}

	_, err := testSink(store, 5).MaybeCheckpoint(context.Background(), artifactFile(t), target)
	require.ErrorIs(t, err, ErrCheckpointFailed)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestProbe(t *testing.T) {
	store := &fakeStore{}
	sink := testSink(store, 0)

	require.NoError(t, sink.Probe(context.Background(), nil))
	require.NoError(t, sink.Probe(context.Background(), &domain.CheckpointTarget{Key: "s3://bucket/run/chr1.hal"}))
	assert.Equal(t, []string{"s3://bucket/run/" + probeName}, store.puts)
	assert.Equal(t, []string{"s3://bucket/run/" + probeName}, store.removes, "scratch object is cleaned up")

	failing := testSink(&fakeStore{err: errors.New("access denied")}, 0)
	err := failing.Probe(context.Background(), &domain.CheckpointTarget{Key: "s3://bucket/chr1.hal"})
	assert.ErrorIs(t, err, ErrCheckpointFailed)
}

func TestStartupCheck_LeavesNoObjectInDir(t *testing.T) {
	dir := t.TempDir()
	sink := testSink(&Router{}, -1)

	require.NoError(t, sink.Probe(context.Background(), &domain.CheckpointTarget{Key: "file://" + filepath.Join(dir, "chr1.hal")}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRouter_RemoveWithoutRemover(t *testing.T) {
	r := &Router{S3: putOnly{}}
	assert.NoError(t, r.Remove(context.Background(), "s3://bucket/key", ""))
	assert.NoError(t, r.Remove(context.Background(), "gs://bucket/key", ""))
}

type putOnly struct{}

func (putOnly) Put(context.Context, string, string, string) error { return nil }

func TestDirStore_Put(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "nested", "chr1.hal")

	sink := testSink(&Router{}, -1)
	done, err := sink.MaybeCheckpoint(context.Background(), artifactFile(t), &domain.CheckpointTarget{Key: "file://" + dst})
	require.NoError(t, err)
	require.True(t, done)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hal", string(data))
}

func TestRouter_RejectsUnconfigured(t *testing.T) {
	r := &Router{}
	err := r.Put(context.Background(), "x", "s3://bucket/key", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	err = r.Put(context.Background(), "x", "gs://bucket/key", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	s3 := &fakeStore{}
	r = &Router{S3: s3}
	require.NoError(t, r.Put(context.Background(), "x", "s3://bucket/key", "eu-west-1"))
	assert.Equal(t, []string{"s3://bucket/key"}, s3.puts)
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		derived string
		probe   string
	}{
		{"s3", "s3://bucket/out/chr1.hal", "s3://bucket/out/chr1.vg", "s3://bucket/out/" + probeName},
		{"path", "/data/out.hal", "/data/out.vg", "/data/" + probeName},
		{"no extension", "s3://bucket/dir.v1/out", "s3://bucket/dir.v1/out.vg", "s3://bucket/dir.v1/" + probeName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.derived, DerivedKey(tt.key, ".vg"))
			probe, err := ProbeKey(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.probe, probe)
		})
	}
}

func TestParseS3Key(t *testing.T) {
	bucket, object, err := ParseS3Key("s3://my-bucket/a/b/chr1.hal")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "a/b/chr1.hal", object)

	for _, key := range []string{"s3://bucket", "s3://", "/local/path", "s3:///object"} {
		_, _, err := ParseS3Key(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}

	assert.True(t, IsRemote("s3://bucket/x"))
	assert.False(t, IsRemote("file:///x"))
	assert.False(t, IsRemote("/x"))
}
