package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type upload struct {
	path        string
	body        []byte
	contentType string
	partSize    int64
}

type fakeWriter struct {
	uploads []upload
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	body, _ := io.ReadAll(data)
	w.uploads = append(w.uploads, upload{path: path, body: body, contentType: contentType})
	return w.err
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	body, _ := io.ReadAll(data)
	w.uploads = append(w.uploads, upload{path: path, body: body, partSize: partSize})
	return w.err
}

func TestCrashArchiver(t *testing.T) {
	at := time.Date(2024, 3, 1, 13, 4, 5, 123, time.FixedZone("CET", 3600))
	w := &fakeWriter{}
	a := NewCrashArchiver(w, "crash")

	path, err := a.ArchiveCrash(context.Background(), []byte(`{"error":"x"}`), at)
	require.NoError(t, err)
	require.Equal(t, "crash/20240301T120405.000000123Z.json", path)
	require.Equal(t, []upload{{path: path, body: []byte(`{"error":"x"}`), contentType: "application/json"}}, w.uploads)

	big := bytes.Repeat([]byte("a"), multipartThreshold+1)
	_, err = a.ArchiveCrash(context.Background(), big, at)
	require.NoError(t, err)
	require.Equal(t, minPartSize, w.uploads[1].partSize)
	require.Len(t, w.uploads[1].body, len(big))

	w.err = errors.New("denied")
	_, err = a.ArchiveCrash(context.Background(), []byte("{}"), at)
	require.ErrorContains(t, err, "denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
	require.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
