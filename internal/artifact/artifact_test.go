package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReport(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "report-standard-libfoo.so.1-standard-libfoo.so.2-x86_64-65000000.html")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestObjectKey(t *testing.T) {
	key, err := objectKey(" 42 ", "/report.html")
	require.NoError(t, err)
	assert.Equal(t, "42/report.html", key)

	for _, tc := range []struct{ id, name string }{
		{"", "report.html"},
		{"42", ""},
		{"42", "../etc/passwd"},
	} {
		_, err := objectKey(tc.id, tc.name)
		assert.Error(t, err, "objectKey(%q, %q)", tc.id, tc.name)
	}
}

func TestDirStorePutRemove(t *testing.T) {
	dir := t.TempDir()
	s := NewDirStore(dir)
	local := writeReport(t, "<html>ok</html>")
	name := filepath.Base(local)

	key, err := s.Put(context.Background(), "42", name, local)
	require.NoError(t, err)
	assert.Equal(t, "42/"+name, key)

	data, err := os.ReadFile(filepath.Join(dir, "42", name))
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(data))

	require.NoError(t, s.Remove(context.Background(), key))
	_, err = os.Stat(filepath.Join(dir, "42"))
	assert.True(t, os.IsNotExist(err), "empty request directory should be removed")

	// Removing twice is fine.
	assert.NoError(t, s.Remove(context.Background(), key))
}

func TestDirStoreMissingSource(t *testing.T) {
	s := NewDirStore(t.TempDir())
	_, err := s.Put(context.Background(), "42", "report.html", filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}

func TestNewS3StoreValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
	}{
		{"no endpoint", S3Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{"no keys", S3Config{Endpoint: "localhost:9000", Bucket: "b"}},
		{"no bucket", S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Store(tt.cfg)
			assert.Error(t, err)
		})
	}
}

// fakeS3 accepts every request for an existing bucket and records them.
type fakeS3 struct {
	mu    sync.Mutex
	calls []string
	body  map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPut {
		f.body[r.URL.Path] = string(data)
	}
	f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func TestS3StorePutRemove(t *testing.T) {
	fake := &fakeS3{body: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	s, err := NewS3Store(S3Config{Endpoint: u.Host, AccessKey: "access", SecretKey: "secret", Bucket: "abi-reports"})
	require.NoError(t, err)

	local := writeReport(t, "<html>report</html>")
	name := filepath.Base(local)
	key, err := s.Put(context.Background(), "42", name, local)
	require.NoError(t, err)
	assert.Equal(t, "42/"+name, key)
	require.NoError(t, s.Remove(context.Background(), key))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.calls, "PUT /abi-reports/42/"+name)
	assert.Contains(t, fake.calls, "DELETE /abi-reports/42/"+name)
	// Plain HTTP uploads are chunk-signed, so only look for the content.
	assert.Contains(t, fake.body["/abi-reports/42/"+name], "<html>report</html>")
}
