package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/relaycrm/orchestrator/internal/campaign"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// CampaignsAPI provides HTTP handlers for bulk campaigns.
type CampaignsAPI struct {
	store             *campaign.Store
	defaultMaxRetries int
}

// NewCampaignsAPI creates the campaigns API.
func NewCampaignsAPI(store *campaign.Store, defaultMaxRetries int) *CampaignsAPI {
	return &CampaignsAPI{store: store, defaultMaxRetries: defaultMaxRetries}
}

// RegisterRoutes registers campaign routes.
func (api *CampaignsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", api.HandleListCampaigns)
		r.Post("/", api.HandleCreateCampaign)
		r.Get("/{campaignId}", api.HandleGetCampaign)
		r.Post("/{campaignId}/recipients", api.HandleEnqueueRecipients)
		r.Get("/{campaignId}/recipients", api.HandleListRecipients)
		r.Post("/{campaignId}/schedule", api.HandleScheduleCampaign)
		r.Post("/{campaignId}/cancel", api.HandleCancelCampaign)
		r.Post("/{campaignId}/recipients/{recipientId}/cancel", api.HandleCancelRecipient)
	})
}

// HandleCreateCampaign creates a draft campaign.
// POST /api/v1/campaigns
func (api *CampaignsAPI) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	var c domain.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c.OrganizationID = orgID

	if err := api.store.CreateCampaign(r.Context(), &c); err != nil {
		if c.Validate() != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleListCampaigns lists an organization's campaigns.
// GET /api/v1/campaigns
func (api *CampaignsAPI) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	campaigns, err := api.store.ListCampaigns(r.Context(), orgID, 100)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns, "total": len(campaigns)})
}

// HandleGetCampaign fetches one campaign with its aggregate counters.
// GET /api/v1/campaigns/{campaignId}
func (api *CampaignsAPI) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	campaignID, err := uuidParam(r, "campaignId")
	if err != nil {
		writeJSONError(w, "invalid campaign ID", http.StatusBadRequest)
		return
	}

	c, err := api.store.GetCampaign(r.Context(), orgID, campaignID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleEnqueueRecipients adds recipients to a campaign before it starts.
// POST /api/v1/campaigns/{campaignId}/recipients
func (api *CampaignsAPI) HandleEnqueueRecipients(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	campaignID, err := uuidParam(r, "campaignId")
	if err != nil {
		writeJSONError(w, "invalid campaign ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Recipients []domain.CampaignRecipient `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Recipients) == 0 {
		writeJSONError(w, "recipients are required", http.StatusBadRequest)
		return
	}
	for _, rec := range req.Recipients {
		if rec.Address == "" && rec.ContactID == nil {
			writeJSONError(w, "each recipient needs an address or a contact_id", http.StatusBadRequest)
			return
		}
	}

	if err := api.store.EnqueueRecipients(r.Context(), orgID, campaignID, req.Recipients, api.defaultMaxRetries); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"enqueued": len(req.Recipients)})
}

// HandleListRecipients lists a campaign's recipients.
// GET /api/v1/campaigns/{campaignId}/recipients
func (api *CampaignsAPI) HandleListRecipients(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	campaignID, err := uuidParam(r, "campaignId")
	if err != nil {
		writeJSONError(w, "invalid campaign ID", http.StatusBadRequest)
		return
	}

	recipients, err := api.store.ListRecipients(r.Context(), orgID, campaignID, 500)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if recipients == nil {
		recipients = []domain.CampaignRecipient{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recipients": recipients, "total": len(recipients)})
}

// HandleScheduleCampaign schedules a draft campaign. An omitted or past
// scheduled_at starts it on the next sweep.
// POST /api/v1/campaigns/{campaignId}/schedule
func (api *CampaignsAPI) HandleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	campaignID, err := uuidParam(r, "campaignId")
	if err != nil {
		writeJSONError(w, "invalid campaign ID", http.StatusBadRequest)
		return
	}

	var req struct {
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	at := time.Now()
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	}

	if err := api.store.ScheduleCampaign(r.Context(), orgID, campaignID, at); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": campaignID, "scheduled_at": at})
}

// HandleCancelCampaign cancels a campaign and all its non-terminal
// recipients. Idempotent.
// POST /api/v1/campaigns/{campaignId}/cancel
func (api *CampaignsAPI) HandleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	campaignID, err := uuidParam(r, "campaignId")
	if err != nil {
		writeJSONError(w, "invalid campaign ID", http.StatusBadRequest)
		return
	}

	if err := api.store.CancelCampaign(r.Context(), orgID, campaignID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleCancelRecipient cancels one recipient. Idempotent.
// POST /api/v1/campaigns/{campaignId}/recipients/{recipientId}/cancel
func (api *CampaignsAPI) HandleCancelRecipient(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	recipientID, err := uuidParam(r, "recipientId")
	if err != nil {
		writeJSONError(w, "invalid recipient ID", http.StatusBadRequest)
		return
	}

	if err := api.store.CancelRecipient(r.Context(), orgID, recipientID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
