package keystore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/config"
)

// exerciseStore runs the same round trip against any FileStore.
func exerciseStore(t *testing.T, store FileStore, dir string) {
	t.Helper()
	ctx := context.Background()

	keys := store.Join(dir, "keys")
	require.NoError(t, store.CreateDirectory(ctx, keys))

	pub := store.Join(keys, "client_public.json")
	priv := store.Join(keys, "client_private.json")
	require.NoError(t, store.WriteText(ctx, pub, `{"kid":"a"}`))
	require.NoError(t, store.WritePrivate(ctx, priv, []byte(`{"kid":"a","d":"x"}`)))

	got, err := store.ReadText(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, `{"kid":"a"}`, got)

	got, err = store.ReadText(ctx, priv)
	require.NoError(t, err)
	assert.Equal(t, `{"kid":"a","d":"x"}`, got)

	exists, err := store.PathExists(ctx, pub)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.PathExists(ctx, store.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.ReadText(ctx, store.Join(dir, "missing.json"))
	assert.True(t, IsNotFound(err), "expected not found, got %v", err)

	require.NoError(t, store.WriteText(ctx, pub, `{"kid":"b"}`))
	got, err = store.ReadText(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, `{"kid":"b"}`, got)
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	exerciseStore(t, NewLocalStore(), dir)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dir, "keys", "client_private.json"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Join(dir, "keys"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store, "out")

	assert.Equal(t, []string{"out/keys/client_private.json", "out/keys/client_public.json"}, store.Files())
	assert.True(t, store.IsPrivate("out/keys/client_private.json"))
	assert.False(t, store.IsPrivate("out/keys/client_public.json"))

	exists, err := store.PathExists(context.Background(), "out/keys")
	require.NoError(t, err)
	assert.True(t, exists)
}

// fakeS3 implements the handful of path-style S3 calls S3Store makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(rest, "/")

	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var match string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				match = k
				break
			}
		}
		count := 0
		contents := ""
		if match != "" {
			count = 1
			contents = fmt.Sprintf("<Contents><Key>%s</Key><Size>%d</Size></Contents>", match, len(f.objects[match]))
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
			f.bucket, prefix, count, contents)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Store(t *testing.T, prefix string) (*S3Store, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	fake := &fakeS3{bucket: "keys", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	store, err := NewS3Store(context.Background(), S3Config{
		BucketHost:      host,
		BucketPort:      port,
		BucketName:      "keys",
		Prefix:          prefix,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	return store, fake
}

func TestS3Store(t *testing.T) {
	store, fake := newFakeS3Store(t, "/team-a/")
	exerciseStore(t, store, "prod")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.objects, "team-a/prod/keys/client_public.json")
	assert.Contains(t, fake.objects, "team-a/prod/keys/client_private.json")
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	store, err = Open(context.Background(), config.StorageConfig{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}
