package store

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idclaim/idclaim/internal/logging/audit"
)

func newTestServer(t *testing.T, authToken string) *httptest.Server {
	t.Helper()
	srv := NewServer(t.TempDir(), authToken, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func putRecord(t *testing.T, url, content string, conditional bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(content))
	require.NoError(t, err)
	if conditional {
		req.Header.Set("If-None-Match", "*")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp
}

func TestServer_EnsureNamespace(t *testing.T) {
	ts := newTestServer(t, "")

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Idempotent.
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ConditionalPut(t *testing.T) {
	ts := newTestServer(t, "")
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	url := ts.URL + "/v1/namespaces/test-ns/records/1"

	resp := putRecord(t, url, "first", true)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// The conditional conflict is 412, the race signal.
	resp = putRecord(t, url, "second", true)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	// The winner's content is intact.
	resp2, body := doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "first", string(body))
}

func TestServer_UnconditionalPut(t *testing.T) {
	ts := newTestServer(t, "")
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	url := ts.URL + "/v1/namespaces/test-ns/records/1"

	resp := putRecord(t, url, "v1", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = putRecord(t, url, "v2", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, "v2", string(body))
}

func TestServer_ListRecords(t *testing.T) {
	ts := newTestServer(t, "")
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)

	for _, name := range []string{"1", "2", "10"} {
		putRecord(t, ts.URL+"/v1/namespaces/test-ns/records/"+name, "x", true)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/namespaces/test-ns/records", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing ListRecordsResponse
	require.NoError(t, json.Unmarshal(body, &listing))
	assert.ElementsMatch(t, []string{"1", "2", "10"}, listing.Names)
}

func TestServer_DeleteRecord(t *testing.T) {
	ts := newTestServer(t, "")
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	url := ts.URL + "/v1/namespaces/test-ns/records/1"
	putRecord(t, url, "x", true)

	resp, _ := doJSON(t, http.MethodDelete, url+"?derived=1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Deleting an absent record is still 204.
	resp, _ = doJSON(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_Auth(t *testing.T) {
	ts := newTestServer(t, "secret-token")

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "Unauthorized", errResp.Error)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", map[string]string{
		"Authorization": "Bearer secret-token",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_InvalidNames(t *testing.T) {
	ts := newTestServer(t, "")

	// Reserved namespace prefix.
	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/_internal", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Reserved record prefix.
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	resp = putRecord(t, ts.URL+"/v1/namespaces/test-ns/records/_meta.json", "x", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UnknownPath(t *testing.T) {
	ts := newTestServer(t, "")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v2/other", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, "")
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)

	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/v1/namespaces/test-ns", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/namespaces/test-ns/records", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_AuditTrail(t *testing.T) {
	var buf bytes.Buffer
	srv := NewServer(t.TempDir(), "secret", nil)
	srv.SetAudit(audit.NewLogger(zerolog.New(&buf)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	authed := map[string]string{"Authorization": "Bearer secret"}

	// Denied auth, namespace creation, claim, conflict, release.
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", nil)
	doJSON(t, http.MethodPut, ts.URL+"/v1/namespaces/test-ns", authed)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/namespaces/test-ns/records/1", strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("If-None-Match", "*")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	doJSON(t, http.MethodDelete, ts.URL+"/v1/namespaces/test-ns/records/1?derived=1", authed)

	trail := buf.String()
	assert.Contains(t, trail, `"event_type":"auth"`)
	assert.Contains(t, trail, `"result":"denied"`)
	assert.Contains(t, trail, `"event_type":"namespace_created"`)
	assert.Contains(t, trail, `"event_type":"claim"`)
	assert.Contains(t, trail, `"result":"created"`)
	assert.Contains(t, trail, `"event_type":"release"`)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, "success", classifyStatus(200))
	assert.Equal(t, "success", classifyStatus(204))
	assert.Equal(t, "conflict", classifyStatus(412))
	assert.Equal(t, "not_found", classifyStatus(404))
	assert.Equal(t, "unauthorized", classifyStatus(401))
	assert.Equal(t, "error", classifyStatus(500))
}
