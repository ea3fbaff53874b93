package selvbetjening

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/dpop"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
)

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	body    string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		captured.body = string(data)
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func dpopKey(t *testing.T) string {
	t.Helper()
	pair, err := jwk.RSAGenerator{}.GenerateKeyPair(jwk.GenerateOptions{Bits: 2048})
	require.NoError(t, err)
	return pair.PrivateKey
}

func TestGetClientSecrets(t *testing.T) {
	srv, captured := newServer(t, http.StatusOK, `[
		{"expiration":"2028-08-08T00:00:00Z","kid":"A","jwkThumbprint":"tA","origin":"Api","publicJwk":"{}"},
		{"expiration":null,"kid":"B","origin":"Portal"}
	]`)
	key := dpopKey(t)

	secrets, problem, err := NewClient(srv.Client(), logger.Discard()).
		GetClientSecrets(context.Background(), srv.URL+"/some/base/", key, "access-token")
	require.NoError(t, err)
	require.Nil(t, problem)
	require.Len(t, secrets, 2)

	assert.Equal(t, "A", secrets[0].Kid)
	require.NotNil(t, secrets[0].Expiration)
	assert.True(t, secrets[0].Expiration.Equal(time.Date(2028, 8, 8, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "tA", secrets[0].JwkThumbprint)
	assert.Nil(t, secrets[1].Expiration)
	assert.Equal(t, "Portal", secrets[1].Origin)

	assert.Equal(t, http.MethodGet, captured.method)
	assert.Equal(t, ClientSecretPath, captured.path)
	assert.Equal(t, "application/json", captured.headers.Get("Accept"))
	assert.Equal(t, "DPoP access-token", captured.headers.Get("Authorization"))

	proof := captured.headers.Get(dpop.HeaderName)
	header, claims, err := dpop.ParseProof(proof)
	require.NoError(t, err)
	assert.Equal(t, "PS256", header["alg"])
	assert.Equal(t, http.MethodGet, claims.HTM)
	assert.Equal(t, srv.URL+ClientSecretPath, claims.HTU)
	assert.Equal(t, dpop.AccessTokenHash("access-token"), claims.ATH)

	sig, err := jose.ParseSigned(proof, []jose.SignatureAlgorithm{jose.PS256})
	require.NoError(t, err)
	signer, err := jwk.ParsePrivate(key)
	require.NoError(t, err)
	_, err = sig.Verify(signer.Public().Key())
	assert.NoError(t, err)
}

func TestGetClientSecrets_ExpirationFormats(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `[
		{"expiration":"2028-08-08T00:00:00","kid":"A"},
		{"expiration":"2028-08-08T12:30:00.1234567","kid":"B"},
		{"expiration":"2028-08-08T02:00:00+02:00","kid":"C"}
	]`)

	secrets, problem, err := NewClient(srv.Client(), logger.Discard()).
		GetClientSecrets(context.Background(), srv.URL, dpopKey(t), "access-token")
	require.NoError(t, err)
	require.Nil(t, problem)
	require.Len(t, secrets, 3)

	midnight := time.Date(2028, 8, 8, 0, 0, 0, 0, time.UTC)
	assert.True(t, secrets[0].Expiration.Equal(midnight))
	assert.True(t, secrets[1].Expiration.Equal(time.Date(2028, 8, 8, 12, 30, 0, 123456700, time.UTC)))
	assert.True(t, secrets[2].Expiration.Equal(midnight))
	assert.Equal(t, int64(1849305600), secrets[0].Expiration.TimeOrNil().Unix())
}

func TestTimestamp(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"next tuesday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`1849305600`), &ts))

	var missing *Timestamp
	assert.Nil(t, missing.TimeOrNil())

	require.NoError(t, json.Unmarshal([]byte(`"2028-08-08T00:00:00"`), &ts))
	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `"2028-08-08T00:00:00Z"`, string(out))
}

func TestGetClientSecrets_Problem(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden, `{"title":"Forbidden","detail":"missing scope","status":403,"instance":"/v1/client-secret"}`)

	secrets, problem, err := NewClient(srv.Client(), nil).
		GetClientSecrets(context.Background(), srv.URL, dpopKey(t), "token")
	require.NoError(t, err)
	assert.Nil(t, secrets)
	require.NotNil(t, problem)
	assert.Equal(t, "missing scope", problem.Detail)
	assert.Equal(t, 403, problem.Status)
	assert.Equal(t, "/v1/client-secret", problem.Instance)
}

func TestUpdateClientSecret(t *testing.T) {
	newPublic := `{"kty":"RSA","kid":"new","n":"abc","e":"AQAB"}`

	tests := []struct {
		name string
		body string
		want *UpdateResult
	}{
		{"object", `{"expiration":"2028-08-08T00:00:00Z"}`, &UpdateResult{Expiration: "2028-08-08T00:00:00Z"}},
		{"json string", `"2028-08-08T00:00:00Z"`, &UpdateResult{Expiration: "2028-08-08T00:00:00Z"}},
		{"empty", "", nil},
		{"null", "null", nil},
		{"null expiration", `{"expiration":null}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, captured := newServer(t, http.StatusOK, tt.body)

			result, problem, err := NewClient(srv.Client(), nil).
				UpdateClientSecret(context.Background(), srv.URL, dpopKey(t), "token", newPublic)
			require.NoError(t, err)
			assert.Nil(t, problem)
			assert.Equal(t, tt.want, result)

			assert.Equal(t, http.MethodPost, captured.method)
			assert.Equal(t, "application/json", captured.headers.Get("Content-Type"))

			var sent string
			require.NoError(t, json.Unmarshal([]byte(captured.body), &sent))
			assert.Equal(t, newPublic, sent)

			_, claims, err := dpop.ParseProof(captured.headers.Get(dpop.HeaderName))
			require.NoError(t, err)
			assert.Equal(t, http.MethodPost, claims.HTM)
		})
	}
}

func TestUpdateClientSecret_BadGatewayWithoutProblem(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway, "")

	result, problem, err := NewClient(srv.Client(), nil).
		UpdateClientSecret(context.Background(), srv.URL, dpopKey(t), "token", `{"kid":"x"}`)
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NotNil(t, problem)
	assert.Equal(t, http.StatusBadGateway, problem.Status)
	assert.Equal(t, "HTTP 502 Bad Gateway", problem.Detail)
	assert.Equal(t, "Bad Gateway", problem.Title)
}

func TestProblemFrom_PlainText(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusInternalServerError}
	problem := problemFrom(resp, []byte("boom"))
	require.NotNil(t, problem)
	assert.Equal(t, "boom", problem.Detail)
	assert.Equal(t, 500, problem.Status)
}

func TestClient_Errors(t *testing.T) {
	client := NewClient(nil, nil)

	_, _, err := client.GetClientSecrets(context.Background(), "not a url", dpopKey(t), "token")
	assert.Error(t, err)

	_, _, err = client.GetClientSecrets(context.Background(), "http://127.0.0.1:1", "{}", "token")
	assert.Error(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	_, _, err = client.UpdateClientSecret(context.Background(), base, dpopKey(t), "token", "{}")
	assert.Error(t, err)
}
