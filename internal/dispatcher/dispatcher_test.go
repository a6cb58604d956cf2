package dispatcher_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/internal/blob/fsblob"
	"github.com/ashmitkumar2005/rivault/internal/config"
	"github.com/ashmitkumar2005/rivault/internal/dispatcher"
	"github.com/ashmitkumar2005/rivault/internal/engine"
	"github.com/ashmitkumar2005/rivault/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg config.Server) *dispatcher.Server {
	t.Helper()
	dataDir := t.TempDir()
	registry := engine.NewRegistry(dataDir, func(userID, userDir string) (blob.Store, error) {
		return fsblob.Open(userDir + "/blobs")
	})
	t.Cleanup(func() { registry.Close() })
	return dispatcher.NewServer(registry, cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthVerifyRequiresUserHeader(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/auth/verify", "", map[string]string{"password": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthVerifyCreatesActor(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/auth/verify", "alice", map[string]string{"password": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body["success"])
}

func TestDriveCreateListDelete(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{
		"letter": "C", "size": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))
	require.Equal(t, "C", drive.Name)

	rec = doJSON(t, h, http.MethodGet, "/drives", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var drives []types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drives))
	// one default drive created on first use of this user, plus "C"
	require.Len(t, drives, 2)

	rec = doJSON(t, h, http.MethodDelete, "/drives/"+drive.ID, "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFolderListRootAlias(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "C", "size": 0})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/folders/root", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var children []types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &children))
	// one default drive created on first use of this user, plus "C"
	require.Len(t, children, 2)
	for _, c := range children {
		require.Equal(t, types.KindDrive, c.Kind)
	}
}

func TestFolderCreateConflict(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 0})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/folders", "alice", map[string]interface{}{
		"parent_id": drive.ID, "name": "docs",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/folders", "alice", map[string]interface{}{
		"parent_id": drive.ID, "name": "docs",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "name_conflict", body["kind"])
}

func TestFileUploadAndDownload(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 0})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/files", "alice", map[string]interface{}{
		"parent_id": drive.ID, "name": "note.txt", "size_bytes": 11,
		"chunk_size_bytes": 5 << 20, "mime_type": "text/plain",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var file types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))

	req := httptest.NewRequest(http.MethodPost, "/files/"+file.ID+"/chunks?order=0", bytes.NewReader([]byte("hello world")))
	req.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/files/"+file.ID+"/download", nil)
	req.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
}

func TestOverwriteFileKeepsIDAndAdjustsUsage(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 1024})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/files", "alice", map[string]interface{}{
		"parent_id": drive.ID, "name": "x.bin", "size_bytes": 15,
	})
	var first types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = doJSON(t, h, http.MethodPost, "/files", "alice", map[string]interface{}{
		"parent_id": drive.ID, "name": "x.bin", "size_bytes": 3, "overwrite": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var second types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, first.ID, second.ID)
	require.Empty(t, second.Chunks)

	rec = doJSON(t, h, http.MethodGet, "/stats", "alice", nil)
	var stats types.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.EqualValues(t, 3, stats.TotalUsedBytes)
}

func TestLockedDownloadRequiresPasswordOrOverride(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}, OverrideLockCode: "2903"})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 0})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/files", "alice", map[string]interface{}{
		"parent_id": drive.ID, "name": "secret.txt", "size_bytes": 4,
	})
	var file types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))

	req := httptest.NewRequest(http.MethodPost, "/files/"+file.ID+"/chunks?order=0", bytes.NewReader([]byte("data")))
	req.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+file.ID+"/lock", "alice", map[string]string{"password": "s3cret"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/files/"+file.ID+"/download", nil)
	req.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/files/"+file.ID+"/download?lockKey=2903", nil)
	req.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "data", rec.Body.String())
}

func TestVerifyLockRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 0})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/folders", "alice", map[string]interface{}{"parent_id": drive.ID, "name": "f"})
	var folder types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &folder))

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+folder.ID+"/lock", "alice", map[string]string{"password": "right"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+folder.ID+"/verify-lock", "alice", map[string]string{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+folder.ID+"/verify-lock", "alice", map[string]string{"password": "right"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body["ok"])
}

func TestLockedNodeNeverLeaksSecretHash(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 0})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/folders", "alice", map[string]interface{}{"parent_id": drive.ID, "name": "vault"})
	var folder types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &folder))

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+folder.ID+"/lock", "alice", map[string]string{"password": "s3cret"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	assertNoSecret := func(rec *httptest.ResponseRecorder) {
		t.Helper()
		body := rec.Body.String()
		require.NotContains(t, body, "SecretHash")
		require.NotContains(t, body, "SecretSalt")
	}

	rec = doJSON(t, h, http.MethodGet, "/folders/root", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertNoSecret(rec)
	var rootChildren []types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rootChildren))

	rec = doJSON(t, h, http.MethodGet, "/folders/"+drive.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertNoSecret(rec)

	rec = doJSON(t, h, http.MethodGet, "/drives/"+folder.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertNoSecret(rec)

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+folder.ID+"/rename", "alice", map[string]string{"name": "vault2"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBatchAppliesSequentially(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"*"}})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/drives", "alice", map[string]interface{}{"letter": "D", "size": 0})
	var drive types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drive))

	rec = doJSON(t, h, http.MethodPost, "/folders", "alice", map[string]interface{}{"parent_id": drive.ID, "name": "old"})
	var folder types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &folder))

	batch := map[string]interface{}{
		"actions": []map[string]interface{}{
			{"type": "rename", "id": folder.ID, "name": "new"},
			{"type": "delete", "id": folder.ID},
		},
	}
	rec = doJSON(t, h, http.MethodPost, "/batch", "alice", batch)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			Status  int  `json:"status"`
			Success bool `json:"success"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	require.True(t, resp.Results[0].Success)
	require.True(t, resp.Results[1].Success)

	rec = doJSON(t, h, http.MethodGet, "/drives/"+drive.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	s := newTestServer(t, config.Server{AllowedOrigins: []string{"https://example.com"}})
	req := httptest.NewRequest(http.MethodPost, "/auth/verify", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-User-Id", "alice")
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
