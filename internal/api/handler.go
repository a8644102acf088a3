package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"osb-tracker/internal/hit"
	"osb-tracker/internal/observability"
	"osb-tracker/internal/tracker"
)

type TrackerHandler struct {
	Tr *tracker.Tracker
}

func NewTrackerHandler(tr *tracker.Tracker) *TrackerHandler {
	return &TrackerHandler{Tr: tr}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	observability.RequestErrors.WithLabelValues(kind).Inc()
	writeJSON(w, status, map[string]any{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "decode", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// recorded maps a tracker result to the response.
func recorded(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
	case errors.Is(err, tracker.ErrNotInitialized):
		writeError(w, http.StatusConflict, "not_initialized", "tracker is not configured")
	default:
		log.Error().Err(err).Msg("record hit")
		writeError(w, http.StatusInternalServerError, "record", err.Error())
	}
}

type configureRequest struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
	SiteID    string `json:"site_id"`
}

// Configure handles POST /v1/configure
func (h *TrackerHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AccountID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "validation", "account_id and url are required")
		return
	}
	h.Tr.Configure(r.Context(), req.AccountID, req.URL, req.SiteID)
	writeJSON(w, http.StatusOK, h.Tr.Info())
}

type hitRequest struct {
	SubType string       `json:"sub_type"`
	Data    []hit.Fields `json:"data"`
}

// Hit handles POST /v1/hits/{type}
func (h *TrackerHandler) Hit(w http.ResponseWriter, r *http.Request) {
	typ, err := hit.ParseHitType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "hit_type", err.Error())
		return
	}
	var req hitRequest
	if !decode(w, r, &req) {
		return
	}
	recorded(w, h.Tr.Record(r.Context(), typ, req.SubType, req.Data))
}

type eventRequest struct {
	Category    string     `json:"category"`
	Action      string     `json:"action"`
	Label       string     `json:"label"`
	Value       string     `json:"value"`
	Interaction *bool      `json:"interaction"`
	Data        hit.Fields `json:"data"`
}

// Event handles POST /v1/events
func (h *TrackerHandler) Event(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decode(w, r, &req) {
		return
	}
	recorded(w, h.Tr.SendEvent(r.Context(), tracker.Event{
		Category:    req.Category,
		Action:      req.Action,
		Label:       req.Label,
		Value:       req.Value,
		Interaction: req.Interaction,
		Data:        req.Data,
	}))
}

type aggregateRequest struct {
	Scope     string  `json:"scope"`
	Name      string  `json:"name"`
	Aggregate string  `json:"aggregate"`
	Value     float64 `json:"value"`
}

// Aggregate handles POST /v1/aggregates
func (h *TrackerHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if !decode(w, r, &req) {
		return
	}
	agg := hit.AggregateType(req.Aggregate)
	switch agg {
	case hit.AggregateMax, hit.AggregateMin, hit.AggregateCount, hit.AggregateSum, hit.AggregateAverage:
	default:
		writeError(w, http.StatusBadRequest, "validation", "unknown aggregate "+req.Aggregate)
		return
	}
	recorded(w, h.Tr.SendAggregate(r.Context(), req.Scope, req.Name, agg, req.Value))
}

type screenViewRequest struct {
	ScreenName string     `json:"screen_name"`
	ClassName  string     `json:"class_name"`
	Data       hit.Fields `json:"data"`
}

// ScreenView handles POST /v1/screenviews
func (h *TrackerHandler) ScreenView(w http.ResponseWriter, r *http.Request) {
	var req screenViewRequest
	if !decode(w, r, &req) {
		return
	}
	recorded(w, h.Tr.SendScreenView(r.Context(), req.ScreenName, req.ClassName, req.Data))
}

type pageViewRequest struct {
	URL               string     `json:"url"`
	Title             string     `json:"title"`
	Referrer          string     `json:"ref"`
	ID                string     `json:"id"`
	OscID             string     `json:"osc_id"`
	OscLabel          string     `json:"osc_label"`
	OssKeyword        string     `json:"oss_keyword"`
	OssCategory       string     `json:"oss_category"`
	OssTotalResults   string     `json:"oss_total_results"`
	OssResultsPerPage string     `json:"oss_results_per_page"`
	OssCurrentPage    string     `json:"oss_current_page"`
	Data              hit.Fields `json:"data"`
}

// PageView handles POST /v1/pageviews
func (h *TrackerHandler) PageView(w http.ResponseWriter, r *http.Request) {
	var req pageViewRequest
	if !decode(w, r, &req) {
		return
	}
	recorded(w, h.Tr.SendPageView(r.Context(), tracker.PageView{
		URL:                req.URL,
		Title:              req.Title,
		Referrer:           req.Referrer,
		ID:                 req.ID,
		CampaignID:         req.OscID,
		CampaignLabel:      req.OscLabel,
		SearchKeyword:      req.OssKeyword,
		SearchCategory:     req.OssCategory,
		SearchTotalResults: req.OssTotalResults,
		SearchPerPage:      req.OssResultsPerPage,
		SearchCurrentPage:  req.OssCurrentPage,
		Data:               req.Data,
	}))
}

// SetScope handles PUT /v1/scopes/{scope}
func (h *TrackerHandler) SetScope(w http.ResponseWriter, r *http.Request) {
	sc, err := hit.ParseSetScope(chi.URLParam(r, "scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scope", err.Error())
		return
	}
	var records []hit.Fields
	if !decode(w, r, &records) {
		return
	}
	h.Tr.SetScope(sc, records)
	w.WriteHeader(http.StatusNoContent)
}

// RemoveScope handles DELETE /v1/scopes/{scope}
func (h *TrackerHandler) RemoveScope(w http.ResponseWriter, r *http.Request) {
	if err := h.Tr.Remove(chi.URLParam(r, "scope")); err != nil {
		writeError(w, http.StatusBadRequest, "scope", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAdHoc handles PUT /v1/data
func (h *TrackerHandler) SetAdHoc(w http.ResponseWriter, r *http.Request) {
	var fields hit.Fields
	if !decode(w, r, &fields) {
		return
	}
	h.Tr.SetAdHoc(fields)
	w.WriteHeader(http.StatusNoContent)
}

// SetNamed handles PUT /v1/data/{name}
func (h *TrackerHandler) SetNamed(w http.ResponseWriter, r *http.Request) {
	var fields hit.Fields
	if !decode(w, r, &fields) {
		return
	}
	h.Tr.SetNamed(chi.URLParam(r, "name"), fields)
	w.WriteHeader(http.StatusNoContent)
}

// SetIds handles PUT /v1/ids
func (h *TrackerHandler) SetIds(w http.ResponseWriter, r *http.Request) {
	var records []hit.Fields
	if !decode(w, r, &records) {
		return
	}
	h.Tr.SetIds(records...)
	w.WriteHeader(http.StatusNoContent)
}

// SetConsent handles PUT /v1/consent. The body is a string or a list of strings.
func (h *TrackerHandler) SetConsent(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decode(w, r, &raw) {
		return
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		h.Tr.SetConsent(r.Context(), list)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		writeError(w, http.StatusBadRequest, "decode", "consent must be a string or a list of strings")
		return
	}
	h.Tr.SetConsentString(r.Context(), single)
	w.WriteHeader(http.StatusNoContent)
}

// GetConsent handles GET /v1/consent
func (h *TrackerHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	consent, _ := h.Tr.Consent(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"consent": consent})
}

// ConsentCallback handles POST /v1/consent/callback with the raw CMP message.
func (h *TrackerHandler) ConsentCallback(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decode(w, r, &raw) {
		return
	}
	// The CMP posts the callback as a JSON string holding the JSON document.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = json.RawMessage(inner)
	}
	mode, err := h.Tr.ConsentManager().ProcessCallback(r.Context(), string(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "consent", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consent_mode": mode})
}

// ConsentStatus handles GET /v1/consent/status. With ?server= the response
// also carries the consent dialog url; ?version= defaults to the protocol version.
func (h *TrackerHandler) ConsentStatus(w http.ResponseWriter, r *http.Request) {
	m := h.Tr.ConsentManager()
	mode, _ := m.ConsentMode(r.Context())
	resp := map[string]any{
		"should_show":  m.ShouldShowConsent(r.Context()),
		"consent_mode": mode,
	}
	if server := r.URL.Query().Get("server"); server != "" {
		version := r.URL.Query().Get("version")
		if version == "" {
			version = h.Tr.ProtocolVersion()
		}
		resp["dialog_url"] = h.Tr.ConsentDialogURL(r.Context(), server, version)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Flush handles POST /v1/flush
func (h *TrackerHandler) Flush(w http.ResponseWriter, r *http.Request) {
	h.Tr.Flush(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"queued": h.Tr.QueueLen()})
}
