package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/campaign"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/hours"
	"github.com/relaycrm/orchestrator/internal/sendtime"
)

// HoursAPI provides HTTP handlers for business hours, send-time windows and
// provider engagement webhooks.
type HoursAPI struct {
	store     *hours.Store
	opt       *sendtime.Optimizer
	campaigns *campaign.Store
	topN      int
}

// NewHoursAPI creates the hours API.
func NewHoursAPI(store *hours.Store, opt *sendtime.Optimizer, campaigns *campaign.Store, topN int) *HoursAPI {
	return &HoursAPI{store: store, opt: opt, campaigns: campaigns, topN: topN}
}

// RegisterRoutes registers business-hours and send-time routes.
func (api *HoursAPI) RegisterRoutes(r chi.Router) {
	r.Route("/business-hours", func(r chi.Router) {
		r.Get("/", api.HandleGetSchedule)
		r.Put("/", api.HandlePutSchedule)
		r.Post("/next-allowed", api.HandleNextAllowed)
	})

	r.Get("/send-windows", api.HandleRankedWindows)
	r.Post("/webhooks/engagement", api.HandleEngagementWebhook)
}

// HandleGetSchedule fetches the organization's weekly schedule.
// GET /api/v1/business-hours
func (api *HoursAPI) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	schedule, err := api.store.LoadSchedule(r.Context(), orgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// HandlePutSchedule replaces the organization's weekly schedule.
// PUT /api/v1/business-hours
func (api *HoursAPI) HandlePutSchedule(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	var schedule domain.WeeklySchedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	schedule.OrganizationID = orgID

	if _, err := schedule.Location(); err != nil {
		writeJSONError(w, "unknown timezone "+schedule.Timezone, http.StatusBadRequest)
		return
	}
	for _, day := range schedule.Days {
		if !day.Enabled {
			continue
		}
		start, err := day.ParseStart()
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		end, err := day.ParseEnd()
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if end <= start {
			writeJSONError(w, "end must be after start", http.StatusBadRequest)
			return
		}
	}

	if err := api.store.SaveSchedule(r.Context(), &schedule); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// HandleNextAllowed answers when a candidate instant would actually send.
// POST /api/v1/business-hours/next-allowed
func (api *HoursAPI) HandleNextAllowed(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Candidate time.Time `json:"candidate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Candidate.IsZero() {
		writeJSONError(w, "candidate is required", http.StatusBadRequest)
		return
	}

	schedule, err := api.store.LoadSchedule(r.Context(), orgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	allowed, err := hours.NextAllowedInstant(schedule, req.Candidate)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"candidate":    req.Candidate,
		"next_allowed": allowed,
	})
}

// HandleRankedWindows returns the organization's best send windows.
// GET /api/v1/send-windows?top=5
func (api *HoursAPI) HandleRankedWindows(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	topN := api.topN
	if raw := r.URL.Query().Get("top"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			topN = n
		}
	}

	windows, err := api.opt.RankedWindows(r.Context(), orgID, topN)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if windows == nil {
		windows = []domain.SendWindow{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"windows": windows, "total": len(windows)})
}

// HandleEngagementWebhook ingests open/click/bounce events from providers.
// Events carry the organization in the payload because providers do not send
// our tenant header. Opens and clicks feed the optimizer's frequency table;
// bounces resolve the delivered recipient by provider message ID and fail it.
// POST /api/v1/webhooks/engagement
func (api *HoursAPI) HandleEngagementWebhook(w http.ResponseWriter, r *http.Request) {
	var events []struct {
		OrganizationID    uuid.UUID             `json:"organization_id"`
		Kind              domain.EngagementKind `json:"kind"`
		OccurredAt        time.Time             `json:"occurred_at"`
		ProviderMessageID string                `json:"provider_message_id"`
		Reason            string                `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, ev := range events {
		if ev.OrganizationID == uuid.Nil || ev.OccurredAt.IsZero() {
			continue
		}
		if ev.Kind == domain.EngagementBounce {
			if ev.ProviderMessageID == "" {
				continue
			}
			reason := ev.Reason
			if reason == "" {
				reason = "provider reported bounce"
			}
			if err := api.campaigns.MarkRecipientBounced(r.Context(), ev.OrganizationID, ev.ProviderMessageID, reason); err != nil {
				continue
			}
			accepted++
			continue
		}
		if err := api.opt.RecordEngagement(r.Context(), ev.OrganizationID, ev.OccurredAt, ev.Kind); err != nil {
			continue
		}
		accepted++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accepted": accepted, "received": len(events)})
}
