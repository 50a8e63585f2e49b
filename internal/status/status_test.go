package status_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convertd/internal/blob"
	"convertd/internal/execution"
	"convertd/internal/status"
	"convertd/internal/testsupport"
)

func setup(t *testing.T) (*status.Service, *execution.Store, blob.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.NewBlobStore(t, cfg)
	return status.New(store, blobs, nil), store, blobs
}

func complete(t *testing.T, store *execution.Store, blobs blob.Store, rec *execution.Record, payload string) blob.Ref {
	t.Helper()
	ctx := context.Background()
	claimed, err := store.Claim(ctx, rec.ID)
	require.NoError(t, err)
	out := blob.OutputRef("gpx", rec.ID, "gpx")
	require.NoError(t, blobs.Put(ctx, out, bytes.NewReader([]byte(payload)), int64(len(payload))))
	require.NoError(t, store.Complete(ctx, rec.ID, claimed.AttemptCount, out.String()))
	return out
}

func TestGetReportsLifecycle(t *testing.T) {
	svc, store, blobs := setup(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)

	report, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, report.Status)
	assert.False(t, report.OutputAvailable)

	complete(t, store, blobs, rec, "<gpx/>")
	report, err = svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, report.Status)
	assert.True(t, report.OutputAvailable)
	assert.Empty(t, report.ErrorMessage)

	_, err = svc.Get(ctx, "unknown")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestGetReportsFailure(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)
	claimed, err := store.Claim(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, rec.ID, claimed.AttemptCount, "execution", "track has no points"))

	report, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, report.Status)
	assert.Equal(t, "track has no points", report.ErrorMessage)
	assert.Equal(t, "execution", report.ErrorKind)
}

func TestOpenResult(t *testing.T) {
	svc, store, blobs := setup(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)

	_, err := svc.OpenResult(ctx, rec.ID)
	assert.ErrorIs(t, err, status.ErrNotReady)

	complete(t, store, blobs, rec, "<gpx>done</gpx>")
	result, err := svc.OpenResult(ctx, rec.ID)
	require.NoError(t, err)
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Equal(t, "<gpx>done</gpx>", string(data))
	assert.Equal(t, "ride.gpx", result.Filename)
	assert.EqualValues(t, len(data), result.Size)
}

func TestDeleteRemovesRecordAndBlobs(t *testing.T) {
	svc, store, blobs := setup(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)
	in, err := blob.ParseRef(rec.InputRef)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, in, bytes.NewReader([]byte("in")), 2))
	out := complete(t, store, blobs, rec, "out")

	require.NoError(t, svc.Delete(ctx, rec.ID))
	require.NoError(t, svc.Delete(ctx, rec.ID), "delete is idempotent")

	_, err = svc.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, status.ErrNotFound))
	for _, ref := range []blob.Ref{in, out} {
		ok, err := blob.Exists(ctx, blobs, ref)
		require.NoError(t, err)
		assert.False(t, ok, ref.String())
	}
}

func TestDownloadName(t *testing.T) {
	cases := map[[2]string]string{
		{"Morning Ride.gpx", "gpx"}:  "Morning Ride.gpx",
		{"track.GPX", "json"}:        "track.json",
		{"../../etc/passwd", "json"}: "passwd.json",
		{"", "gpx"}:                  "output.gpx",
		{"archive.tar.gz", "zip"}:    "archive.tar.zip",
	}
	for in, want := range cases {
		assert.Equal(t, want, status.DownloadName(in[0], in[1]), in[0])
	}
}
