package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/cli"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/dpop"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
)

type smallKeys struct{}

func (smallKeys) GenerateKeyPair(opts jwk.GenerateOptions) (jwk.KeyPair, error) {
	opts.Bits = 2048
	return jwk.RSAGenerator{}.GenerateKeyPair(opts)
}

var (
	clientKeyOnce sync.Once
	clientKey     jwk.KeyPair
	newKey        jwk.KeyPair
)

func keys(t *testing.T) (jwk.KeyPair, jwk.KeyPair) {
	t.Helper()
	clientKeyOnce.Do(func() {
		var err error
		clientKey, err = smallKeys{}.GenerateKeyPair(jwk.GenerateOptions{KeyID: "old-kid"})
		require.NoError(t, err)
		newKey, err = smallKeys{}.GenerateKeyPair(jwk.GenerateOptions{KeyID: "new-kid"})
		require.NoError(t, err)
	})
	return clientKey, newKey
}

// fakeHelseID serves discovery, the token endpoint and the self-service API.
type fakeHelseID struct {
	srv *httptest.Server

	mu           sync.Mutex
	tokenCalls   int
	updateBodies []string
	secretsBody  string
	updateStatus int
	updateBody   string
}

func newFakeHelseID(t *testing.T) *fakeHelseID {
	t.Helper()
	f := &fakeHelseID{
		secretsBody:  `[{"expiration":"2028-08-08T00:00:00Z","kid":"old-kid","origin":"Api"},{"expiration":null,"kid":"other","origin":"Portal"}]`,
		updateStatus: http.StatusOK,
		updateBody:   `{"expiration":"2028-08-08T00:00:00Z"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":         f.srv.URL,
			"token_endpoint": f.srv.URL + "/connect/token",
			"jwks_uri":       f.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "token_type": "DPoP", "expires_in": 60})
	})
	mux.HandleFunc("/v1/client-secret", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "DPoP at" || r.Header.Get(dpop.HeaderName) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, f.secretsBody)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f.updateBodies = append(f.updateBodies, string(body))
			w.WriteHeader(f.updateStatus)
			io.WriteString(w, f.updateBody)
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func run(t *testing.T, stdin string, args ...string) (int, string) {
	t.Helper()
	root := NewRootCmd(cli.WithKeys(smallKeys{}), cli.WithCertificateBits(2048))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	code := cli.Run(root)
	return code, out.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUpdateClientKey(t *testing.T) {
	f := newFakeHelseID(t)
	client, fresh := keys(t)

	code, out := run(t, "",
		"updateclientkey", "-c", "client-1",
		"--ep", writeFile(t, "old.json", client.PrivateKey),
		"-n", fresh.PublicKey,
		"-a", f.srv.URL, "-b", f.srv.URL, "-y",
		"--environment", "Test")
	require.Equal(t, 0, code, out)

	assert.Contains(t, out, "Environment: Test")
	assert.Contains(t, out, "Old key loaded from file:")
	assert.Contains(t, out, "New key provided directly.")
	assert.Contains(t, out, "Keys successfully updated.")
	assert.Contains(t, out, "Updated keys for Client: client-1")
	assert.Contains(t, out, "New public key Id: new-kid")
	assert.Contains(t, out, "Expiration Date: 2028-08-08T00:00:00Z")

	require.Len(t, f.updateBodies, 1)
	var sent string
	require.NoError(t, json.Unmarshal([]byte(f.updateBodies[0]), &sent))
	assert.Equal(t, fresh.PublicKey, sent)
	assert.Equal(t, 1, f.tokenCalls)
}

func TestUpdateClientKey_Prompt(t *testing.T) {
	client, fresh := keys(t)

	t.Run("cancelled", func(t *testing.T) {
		f := newFakeHelseID(t)
		code, out := run(t, "n\n",
			"updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", fresh.PublicKey,
			"-a", f.srv.URL, "-b", f.srv.URL)
		assert.Equal(t, 0, code)
		assert.Contains(t, out, "Update client in environment Production? y/n")
		assert.Contains(t, out, "Operation cancelled.")
		assert.Zero(t, f.tokenCalls)
	})

	t.Run("confirmed", func(t *testing.T) {
		f := newFakeHelseID(t)
		code, out := run(t, " Y \n",
			"updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", fresh.PublicKey,
			"-a", f.srv.URL, "-b", f.srv.URL)
		assert.Equal(t, 0, code, out)
		assert.Contains(t, out, "Keys successfully updated.")
	})
}

func TestUpdateClientKey_MissingKey(t *testing.T) {
	f := newFakeHelseID(t)
	_, fresh := keys(t)

	code, out := run(t, "", "updateclientkey", "-c", "client-1", "-n", fresh.PublicKey,
		"-a", f.srv.URL, "-b", f.srv.URL, "-y")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Old key not provided.")
	assert.Contains(t, out, "One or more parameters empty.")
	assert.Contains(t, out, "New key found: true Old key found: false")
	assert.Zero(t, f.tokenCalls)
}

func TestUpdateClientKey_ServerError(t *testing.T) {
	f := newFakeHelseID(t)
	f.updateStatus = http.StatusBadGateway
	f.updateBody = ""
	client, fresh := keys(t)

	code, out := run(t, "", "updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", fresh.PublicKey,
		"-a", f.srv.URL, "-b", f.srv.URL, "-y")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Details: Failed to update client client-1. Error: HTTP 502 Bad Gateway")
}

func TestUpdateClientKey_AmbiguousResult(t *testing.T) {
	f := newFakeHelseID(t)
	f.updateBody = ""
	client, fresh := keys(t)

	code, out := run(t, "", "updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", fresh.PublicKey,
		"-a", f.srv.URL, "-b", f.srv.URL, "-y")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Check if client was updated before retrying.")
}

func TestUpdateClientKey_PolicyRejectsShortKey(t *testing.T) {
	t.Setenv("HELSEID_POLICY_ENABLED", "true")
	f := newFakeHelseID(t)
	client, fresh := keys(t)

	code, out := run(t, "", "updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", fresh.PublicKey,
		"-a", f.srv.URL, "-b", f.srv.URL, "-y")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "New key rejected by policy: RSA modulus must be at least 4096 bits, got 2048")
	assert.Zero(t, f.tokenCalls)
	assert.Empty(t, f.updateBodies)
}

func TestUpdateClientKey_NewKeyWithoutKid(t *testing.T) {
	f := newFakeHelseID(t)
	client, fresh := keys(t)

	var members map[string]any
	require.NoError(t, json.Unmarshal([]byte(fresh.PublicKey), &members))
	delete(members, "kid")
	withoutKid, err := json.Marshal(members)
	require.NoError(t, err)

	code, out := run(t, "", "updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", string(withoutKid),
		"-a", f.srv.URL, "-b", f.srv.URL, "-y")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Keys successfully updated.")
	assert.Contains(t, out, "New public key Id: \n")
	require.Len(t, f.updateBodies, 1)
}

func TestUpdateClientKey_MissingAuthority(t *testing.T) {
	client, fresh := keys(t)

	code, out := run(t, "", "updateclientkey", "-c", "client-1", "-e", client.PrivateKey, "-n", fresh.PublicKey, "-y")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "authority URL is required")
	assert.Contains(t, out, "base address is required")
}

func TestReadClientSecretExpiration(t *testing.T) {
	f := newFakeHelseID(t)
	client, _ := keys(t)

	code, out := run(t, "", "readclientsecretexpiration", "-c", "client-1",
		"--ep", writeFile(t, "old.json", client.PrivateKey), "-a", f.srv.URL, "-b", f.srv.URL)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Private Key loaded from file:")
	assert.Contains(t, out, "1849305600")
}

func TestReadClientSecretExpiration_NoExpiration(t *testing.T) {
	f := newFakeHelseID(t)
	f.secretsBody = `[{"expiration":null,"kid":"old-kid","origin":"Api"}]`
	client, _ := keys(t)

	code, out := run(t, "", "readclientsecretexpiration", "-c", "client-1", "-e", client.PrivateKey,
		"-a", f.srv.URL, "-b", f.srv.URL)
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "The client secret with Kid: old-kid does not have an expiration date.")
	assert.Contains(t, out, "No expiration time (Null)")
}

func TestReadClientSecretExpiration_NoMatch(t *testing.T) {
	f := newFakeHelseID(t)
	f.secretsBody = `[{"expiration":"2028-08-08T00:00:00Z","kid":"someone-else"}]`
	client, _ := keys(t)

	code, out := run(t, "", "readclientsecretexpiration", "-c", "client-1", "-e", client.PrivateKey,
		"-a", f.srv.URL, "-b", f.srv.URL)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "No secret found with matching Kid.")
}

func TestReadClientSecretExpiration_NoPrivateKey(t *testing.T) {
	f := newFakeHelseID(t)

	code, out := run(t, "", "readclientsecretexpiration", "-c", "client-1", "-a", f.srv.URL, "-b", f.srv.URL)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "No private key provided. Either ExistingPrivateJwk or ExistingPrivateJwkPath must be specified.")
	assert.Zero(t, f.tokenCalls)
}

func TestReadClientSecretExpiration_UnreachableAuthority(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	authority := srv.URL
	srv.Close()
	client, _ := keys(t)

	code, _ := run(t, "", "readclientsecretexpiration", "-c", "client-1", "-e", client.PrivateKey,
		"-a", authority, "-b", authority)
	assert.Equal(t, 1, code)
}

func TestGenerateJSONWebKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	code, out := run(t, "", "generatejsonwebkey", "-n", "myclient", "-d", dir, "-k", "my-kid")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Key path did not exist. Creating folder")

	public, err := os.ReadFile(filepath.Join(dir, "myclient_public.json"))
	require.NoError(t, err)
	kid, err := jwk.ExtractKeyID(string(public))
	require.NoError(t, err)
	assert.Equal(t, "my-kid", kid)
	assert.FileExists(t, filepath.Join(dir, "myclient_private.json"))

	code, out = run(t, "", "generatejsonwebkey", "-n", "b64", "-d", dir, "--ot", "base64")
	require.Equal(t, 0, code, out)
	assert.FileExists(t, filepath.Join(dir, "b64_private.txt"))
	assert.FileExists(t, filepath.Join(dir, "b64_public.txt"))

	code, _ = run(t, "", "generatejsonwebkey", "-n", "bad", "-d", dir, "--ot", "yaml")
	assert.Equal(t, 1, code)
}

func TestGenerateCertificate(t *testing.T) {
	dir := t.TempDir()

	code, out := run(t, "", "generatecertificate", "--cn", "svc", "--pwd", "secret", "--dir", dir)
	require.Equal(t, 0, code, out)
	assert.FileExists(t, filepath.Join(dir, "svc_private.pfx"))
	assert.FileExists(t, filepath.Join(dir, "svc_public.pem"))
	assert.FileExists(t, filepath.Join(dir, "svc_thumbprint.txt"))
	assert.Contains(t, out, "Thumbprint saved:")

	code, _ = run(t, "", "generatecertificate", "--dir", dir)
	assert.Equal(t, 1, code)
}
