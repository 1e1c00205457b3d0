package daemon

import (
	"net/http"
	"strings"
	"time"
)

func (a *API) Sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	records, err := a.Registry.Sessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	summaries := make([]SessionSummary, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		summaries = append(summaries, SessionSummary{
			SessionID:      record.SessionID,
			Summary:        record.Summary,
			CreatedAt:      formatTime(record.CreatedAt),
			LastModifiedAt: formatTime(record.LastModifiedAt),
			IsBusy:         a.Registry.IsBusy(record.SessionID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// SessionByID serves the /api/sessions/{id}/... subtree.
func (a *API) SessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	sessionID := strings.TrimSpace(parts[0])
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return
	}
	resource := ""
	if len(parts) == 2 {
		resource = parts[1]
	}

	switch resource {
	case "messages":
		messages, err := a.Registry.History(r.Context(), sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"messages":   messages,
		})
	case "worldline":
		parentUUID := strings.TrimSpace(r.URL.Query().Get("parent_uuid"))
		var err error
		var siblings any
		if parentUUID != "" {
			siblings, err = a.Resolver.SiblingsAt(r.Context(), sessionID, parentUUID)
		} else {
			siblings, err = a.Resolver.SiblingsOf(r.Context(), sessionID)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"worldlines": siblings,
		})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
