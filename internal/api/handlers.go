package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linkcheck/internal/checker"
	"linkcheck/internal/models"
	"linkcheck/internal/storage"
	"linkcheck/internal/urlutil"
)

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	store  storage.Storer
	runner checker.Runner
}

// NewHandlers creates a new Handlers struct. runner serves POST /v1/check.
func NewHandlers(store storage.Storer, runner checker.Runner) *Handlers {
	return &Handlers{store: store, runner: runner}
}

type urlRequest struct {
	URL string `json:"url"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// CreateTarget handles the creation of a new target.
func (h *Handlers) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var reqBody urlRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	canonicalURL, err := urlutil.Canonicalize(reqBody.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := &models.Target{
		ID:           storage.NewID("t_"),
		URL:          reqBody.URL,
		CanonicalURL: canonicalURL,
		Host:         urlutil.Host(canonicalURL),
		CreatedAt:    time.Now().UTC(),
	}

	var keyPtr *string
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		keyPtr = &key
	}

	createdTarget, err := h.store.CreateTarget(r.Context(), target, keyPtr)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		log.Printf("error creating target: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// A known canonical URL is not an error for the client.
	statusCode := http.StatusCreated
	if errors.Is(err, storage.ErrDuplicateKey) {
		statusCode = http.StatusOK
	}
	writeJSON(w, statusCode, createdTarget)
}

// ListTargets handles listing targets with keyset pagination.
func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	host := strings.ToLower(strings.TrimSpace(q.Get("host")))

	afterTime, afterID := decodePageToken(q.Get("page_token"))

	items, err := h.store.ListTargets(r.Context(), storage.ListTargetsParams{
		Host:      host,
		AfterTime: afterTime,
		AfterID:   afterID,
		Limit:     limit,
	})
	if err != nil {
		log.Printf("list targets error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Target{}
	}

	resp := struct {
		Items         []models.Target `json:"items"`
		NextPageToken string          `json:"next_page_token"`
	}{
		Items: items,
	}
	if len(items) == limit {
		resp.NextPageToken = encodePageToken(items[len(items)-1])
	}
	writeJSON(w, http.StatusOK, resp)
}

// The page token is base64 of "<rfc3339nano>|<id>" of the last item served.
func encodePageToken(last models.Target) string {
	cursor := last.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + last.ID
	return base64.URLEncoding.EncodeToString([]byte(cursor))
}

func decodePageToken(token string) (time.Time, string) {
	if token == "" {
		return time.Time{}, ""
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, ""
	}
	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return time.Time{}, ""
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, ""
	}
	return t, id
}

// ListCheckResults handles listing check results for a target.
func (h *Handlers) ListCheckResults(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("target_id")

	if _, err := h.store.GetTargetByID(r.Context(), targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "target not found", http.StatusNotFound)
			return
		}
		log.Printf("get target error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	var sincePtr *time.Time
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			utc := t.UTC()
			sincePtr = &utc
		}
	}

	results, err := h.store.ListCheckResultsByTargetID(r.Context(), storage.ListCheckResultsParams{
		TargetID: targetID,
		Since:    sincePtr,
		Limit:    limit,
	})
	if err != nil {
		log.Printf("list results error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []models.CheckResult{}
	}

	writeJSON(w, http.StatusOK, struct {
		Items []models.CheckResult `json:"items"`
	}{Items: results})
}

// Check runs a link check synchronously and returns its result. The URL is
// checked as given, not canonicalized, so redirects and the missing-slash
// warning show up exactly as a stored link would see them.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var reqBody urlRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(reqBody.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	res := h.runner.Run(r.Context(), reqBody.URL)
	writeJSON(w, http.StatusOK, res)
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
