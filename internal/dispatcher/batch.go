package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/ashmitkumar2005/rivault/internal/engine"
)

// batchAction is one entry in a /batch request: type discriminates which
// of delete/rename/move to apply to Id, with NewName/NewParentID populated
// only for the action types that need them.
type batchAction struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	NewName     string `json:"name,omitempty"`
	NewParentID string `json:"new_parent_id,omitempty"`
}

type batchRequest struct {
	Actions []batchAction `json:"actions"`
}

type batchActionResult struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

type batchResponse struct {
	Results []batchActionResult `json:"results"`
}

// handleBatch applies a sequence of delete/rename/move actions against the
// caller's actor, one at a time, stopping for nothing — every action gets
// attempted even if an earlier one failed, the same way a shell script
// keeps running unless a caller explicitly checks $? itself. Because every
// action routes through the same UserActor, each one sees the effects of
// the ones before it.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, ok := s.actorFor(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
		return
	}

	results := make([]batchActionResult, 0, len(req.Actions))
	for _, action := range req.Actions {
		results = append(results, applyBatchAction(a, action))
	}

	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func applyBatchAction(a *engine.UserActor, action batchAction) batchActionResult {
	var err error
	switch action.Type {
	case "delete":
		err = a.Delete(action.ID)
	case "rename":
		_, err = a.Rename(action.ID, action.NewName)
	case "move":
		_, err = a.Move(action.ID, action.NewParentID)
	default:
		return batchActionResult{ID: action.ID, Status: http.StatusBadRequest, Error: "unknown action type " + action.Type}
	}
	if err != nil {
		return batchActionResult{ID: action.ID, Status: statusForKind(engine.KindOf(err)), Error: err.Error()}
	}
	return batchActionResult{ID: action.ID, Status: http.StatusOK, Success: true}
}
