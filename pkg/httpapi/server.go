package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eduardocaminha/radreport/pkg/audiostore"
	"github.com/eduardocaminha/radreport/pkg/generate"
	"github.com/eduardocaminha/radreport/pkg/logging"
	"github.com/eduardocaminha/radreport/pkg/store"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

// UserIDHeader carries the authenticated caller identity. Authentication
// itself happens upstream; an empty header is rejected.
const UserIDHeader = "X-User-Id"

const ndjsonContentType = "application/x-ndjson"

// Handler serves the generation and audio endpoints. The audio store is
// optional; without one the upload route is not registered.
type Handler struct {
	orchestrator *generate.Orchestrator
	audio        *audiostore.Store
}

func NewHandler(orchestrator *generate.Orchestrator, audio *audiostore.Store) *Handler {
	return &Handler{orchestrator: orchestrator, audio: audio}
}

// Mux returns the request multiplexer with all routes registered.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", h.handleGenerate)
	if h.audio != nil {
		mux.HandleFunc("POST /api/audio", h.handleAudioUpload)
	}
	return mux
}

type generateRequest struct {
	Text               string `json:"text"`
	ExamType           string `json:"examType"`
	EmergencyMode      bool   `json:"emergencyMode"`
	ComparativeMode    bool   `json:"comparativeMode"`
	ResearchDetailMode bool   `json:"researchDetailMode"`
}

// errorBody is the non-streaming error shape, mirroring the parsed result
// contract so clients handle both paths with one decoder.
type errorBody struct {
	Report      *string  `json:"laudo"`
	Suggestions []string `json:"sugestoes"`
	Error       string   `json:"erro"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.NewLogger(ctx)

	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, utils.WrapIfNotNil(err, "invalid request body"))
		return
	}

	events, err := h.orchestrator.Generate(ctx, generate.Request{
		UserID:         userID,
		Text:           body.Text,
		ExamType:       body.ExamType,
		Emergency:      body.EmergencyMode,
		Comparative:    body.ComparativeMode,
		ResearchDetail: body.ResearchDetailMode,
	})
	if err != nil {
		writeError(w, classifyStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", ndjsonContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)
	for event := range events {
		if err := encoder.Encode(event); err != nil {
			// Client went away; the orchestrator observes ctx and stops.
			log.Warnf("stream write failed: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session query parameter is required"))
		return
	}

	key, err := h.audio.Upload(r.Context(), userID, sessionID, r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		Key string `json:"key"`
	}{key})
}

// classifyStatus maps pre-stream failures onto HTTP statuses by error
// identity first, then by message substrings.
func classifyStatus(err error) int {
	switch {
	case errors.Is(err, generate.ErrEmptyDictation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case utils.ContainsAnyErrorSubstring(err, "timeout", "ETIMEDOUT"):
		return http.StatusGatewayTimeout
	case utils.ContainsAnyErrorSubstring(err, "401", "authentication"):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Suggestions: []string{},
		Error:       err.Error(),
	})
}
