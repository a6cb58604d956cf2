package dispatcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashmitkumar2005/rivault/internal/engine"
	"github.com/ashmitkumar2005/rivault/pkg/types"
)

type authVerifyRequest struct {
	Password string `json:"password"`
}

type authVerifyResponse struct {
	Success bool `json:"success"`
}

// handleAuthVerify accepts a password but never inspects it: encryption
// keys are derived and kept entirely client-side, so the server has no
// credential to check against. The only thing it verifies is that the
// caller's X-User-Id resolves to a usable actor. A real credential check,
// if this service ever grows one, belongs in front of this dispatcher.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authVerifyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	if _, err := a.RootID(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authVerifyResponse{Success: true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	stats, err := a.Stats()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// createDriveRequest mirrors spec.md §6's drive-creation body: a single
// letter name (A-Z, unique under the caller's root) and a byte quota.
type createDriveRequest struct {
	Letter string `json:"letter"`
	Size   int64  `json:"size"`
}

// handleDrives serves POST /drives (create) and GET /drives (list every
// drive under the caller's root). The list endpoint is this implementation's
// convenience expansion of GET /folders/root, which already returns every
// drive as part of the root's children.
func (s *Server) handleDrives(w http.ResponseWriter, r *http.Request) {
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createDriveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
			return
		}
		if len(req.Letter) != 1 || req.Letter[0] < 'A' || req.Letter[0] > 'Z' {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "letter must be a single character A-Z", Kind: "invalid_request"})
			return
		}
		drive, err := a.CreateDrive(req.Letter, req.Size)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, redactNode(drive))
	case http.MethodGet:
		rootID, err := a.RootID()
		if err != nil {
			writeError(w, r, err)
			return
		}
		children, err := a.ListChildren(rootID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		drives := make([]*types.Node, 0, len(children))
		for _, c := range children {
			if c.Kind == types.KindDrive {
				drives = append(drives, c)
			}
		}
		writeJSON(w, http.StatusOK, redactNodes(drives))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDrive serves GET/DELETE /drives/{id}.
func (s *Server) handleDrive(w http.ResponseWriter, r *http.Request) {
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/drives/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		n, err := a.GetNode(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, redactNode(n))
	case http.MethodDelete:
		if err := a.Delete(id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createFolderRequest struct {
	ParentID string `json:"parent_id"`
	Name     string `json:"name"`
}

// handleFolders serves POST /folders (create a folder under parent_id).
func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
		return
	}
	folder, err := a.CreateFolder(req.ParentID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, redactNode(folder))
}

// handleFolder serves GET /folders/{id} (list a folder's children).
func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/folders/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if id == "root" {
		rootID, err := a.RootID()
		if err != nil {
			writeError(w, r, err)
			return
		}
		id = rootID
	}
	children, err := a.ListChildren(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redactNodes(children))
}

// createFileRequest's Overwrite field is accepted but not branched on:
// engine.UserActor.CreateFile already treats any name collision with an
// existing file under the same parent as an overwrite (same id, chunks
// cleared, usage adjusted by the size delta), which is exactly spec.md
// §8 scenario 6's behavior. A create without Overwrite=true that happens
// to collide gets the same treatment; this is a harmless superset, not a
// divergence, since the spec never requires rejecting an unflagged
// collision.
type createFileRequest struct {
	ParentID       string              `json:"parent_id"`
	Name           string              `json:"name"`
	SizeBytes      int64               `json:"size_bytes"`
	ChunkSizeBytes int64               `json:"chunk_size_bytes"`
	MimeType       string              `json:"mime_type"`
	Encryption     *encryptionInfoWire `json:"encryption"`
	Overwrite      bool                `json:"overwrite"`
}

// encryptionInfoWire mirrors types.EncryptionInfo with JSON tags, since
// pkg/types deliberately carries none — the wire format belongs to the
// dispatcher, not to the domain type every engine operation shares.
type encryptionInfoWire struct {
	WrappedDataKey   []byte `json:"wrapped_data_key"`
	WrapNonce        []byte `json:"wrap_nonce"`
	MasterKeySalt    []byte `json:"master_key_salt"`
	PBKDF2Iterations int    `json:"pbkdf2_iterations"`
}

func (e *encryptionInfoWire) toDomain() *types.EncryptionInfo {
	if e == nil {
		return nil
	}
	return &types.EncryptionInfo{
		WrappedDataKey:   e.WrappedDataKey,
		WrapNonce:        e.WrapNonce,
		MasterKeySalt:    e.MasterKeySalt,
		PBKDF2Iterations: e.PBKDF2Iterations,
	}
}

// handleFiles serves POST /files (create file metadata; chunks are appended
// separately via /files/{id}/chunks).
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req createFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
		return
	}
	file, err := a.CreateFile(req.ParentID, req.Name, req.SizeBytes, req.ChunkSizeBytes, req.MimeType, req.Encryption.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, redactNode(file))
}

// handleFile routes every /files/{id}... request by inspecting what follows
// the id, the same manual-suffix-switch idiom as the rest of this package.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/files/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	var sub string
	if len(parts) == 2 {
		sub = parts[1]
	}

	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.getFileMetadata(w, r, a, id)
	case sub == "chunks" && r.Method == http.MethodPost:
		s.appendFileChunk(w, r, a, id)
	case sub == "download" && r.Method == http.MethodGet:
		s.downloadFile(w, r, a, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getFileMetadata(w http.ResponseWriter, r *http.Request, a *engine.UserActor, id string) {
	n, err := a.GetFile(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redactNode(n))
}

func (s *Server) appendFileChunk(w http.ResponseWriter, r *http.Request, a *engine.UserActor, id string) {
	orderStr := r.URL.Query().Get("order")
	order, err := strconv.Atoi(orderStr)
	if err != nil || order < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order must be a non-negative integer", Kind: "invalid_request"})
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read chunk body", Kind: "invalid_request"})
		return
	}
	ref, err := a.AppendChunk(id, order, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// downloadFile streams every chunk of id, in order, as raw ciphertext —
// decryption happens on the client with the key it already holds. A
// lockKey query parameter is required and checked first when the file
// itself is locked; locks on its ancestors are not checked here. The first
// chunk is read before the status line is written, so a failure there (such
// as a missing blob, 410) is returned as an error response; a failure on a
// later chunk ends the already-started 200 stream early.
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request, a *engine.UserActor, id string) {
	file, err := a.GetFile(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if file.Locked {
		secret := r.URL.Query().Get("lockKey")
		ok, err := s.verifyLockOrOverride(a, id, secret)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "file is locked", Kind: "forbidden"})
			return
		}
	}

	var first []byte
	if len(file.Chunks) > 0 {
		first, err = a.ReadChunk(id, file.Chunks[0].Order)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)

	for i, chunk := range file.Chunks {
		data := first
		if i > 0 {
			data, err = a.ReadChunk(id, chunk.Order)
			if err != nil {
				logRequest(r).Error().Err(err).Str("file_id", id).Int("order", chunk.Order).Msg("download: chunk read failed mid-stream")
				return
			}
		}
		if _, err := w.Write(data); err != nil {
			return
		}
	}
}

type renameRequest struct {
	Name string `json:"name"`
}

type moveRequest struct {
	ParentID string `json:"parent_id"`
}

// lockRequest's field is named Password to match spec.md §6's wire table,
// even though it gates a lock (see pkg/types.Node's SecretHash/SecretSalt),
// not the client's encryption passphrase — the two are deliberately
// independent secrets per the spec's glossary entry for Lock.
type lockRequest struct {
	Password string `json:"password"`
}

type verifyLockResponse struct {
	OK bool `json:"ok"`
}

// handleNode routes every /nodes/{id}/{action} request and the bare
// /nodes/{id} DELETE.
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/nodes/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	var action string
	if len(parts) == 2 {
		action = parts[1]
	}

	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}

	if action == "" {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := a.Delete(id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "rename":
		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
			return
		}
		n, err := a.Rename(id, req.Name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, redactNode(n))
	case "move":
		var req moveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
			return
		}
		n, err := a.Move(id, req.ParentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, redactNode(n))
	case "lock":
		var req lockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
			return
		}
		if err := a.Lock(id, req.Password); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "unlock":
		var req lockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
			return
		}
		if s.isOverrideCode(req.Password) {
			if err := a.ForceUnlock(id); err != nil {
				writeError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := a.Unlock(id, req.Password); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "verify-lock":
		var req lockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
			return
		}
		ok, err := s.verifyLockOrOverride(a, id, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid lock password", Kind: string(engine.KindAuthFailed)})
			return
		}
		writeJSON(w, http.StatusOK, verifyLockResponse{OK: true})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// isOverrideCode reports whether secret is the configured universal
// override lock code (disabled when unset), preserved from the original
// implementation's hard-coded "2903" backdoor per DESIGN.md's open-question
// decision: present, optional, and off by default.
func (s *Server) isOverrideCode(secret string) bool {
	return s.cfg.OverrideLockCode != "" && secret == s.cfg.OverrideLockCode
}

// verifyLockOrOverride reports whether secret unlocks id, accepting either
// the node's own stored secret or the configured override code.
func (s *Server) verifyLockOrOverride(a *engine.UserActor, id, secret string) (bool, error) {
	if s.isOverrideCode(secret) {
		return true, nil
	}
	return a.VerifyLock(id, secret)
}
