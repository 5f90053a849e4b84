package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/relaycrm/orchestrator/internal/contacts"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/scheduler"
)

// MessagesAPI provides HTTP handlers for one-off scheduled messages and
// contact subscription management.
type MessagesAPI struct {
	messages          *scheduler.MessageStore
	contacts          *contacts.Store
	defaultMaxRetries int
}

// NewMessagesAPI creates the messages API.
func NewMessagesAPI(messages *scheduler.MessageStore, contactStore *contacts.Store, defaultMaxRetries int) *MessagesAPI {
	return &MessagesAPI{messages: messages, contacts: contactStore, defaultMaxRetries: defaultMaxRetries}
}

// RegisterRoutes registers message and contact routes.
func (api *MessagesAPI) RegisterRoutes(r chi.Router) {
	r.Route("/messages", func(r chi.Router) {
		r.Post("/", api.HandleScheduleMessage)
		r.Delete("/{messageId}", api.HandleCancelMessage)
	})

	r.Route("/contacts", func(r chi.Router) {
		r.Put("/{contactId}", api.HandleUpsertContact)
		r.Get("/{contactId}", api.HandleGetContact)
		r.Patch("/{contactId}/subscription", api.HandleSetSubscription)
	})
}

// HandleScheduleMessage schedules a one-off message.
// POST /api/v1/messages
func (api *MessagesAPI) HandleScheduleMessage(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	var m domain.ScheduledMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m.OrganizationID = orgID
	if m.MaxRetries == 0 {
		m.MaxRetries = api.defaultMaxRetries
	}

	if err := api.messages.CreateMessage(r.Context(), &m); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleCancelMessage drops a scheduled message before it is claimed.
// DELETE /api/v1/messages/{messageId}
func (api *MessagesAPI) HandleCancelMessage(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	msgID, err := uuidParam(r, "messageId")
	if err != nil {
		writeJSONError(w, "invalid message ID", http.StatusBadRequest)
		return
	}

	if err := api.messages.CancelMessage(r.Context(), orgID, msgID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpsertContact syncs one contact projection row from the CRM.
// PUT /api/v1/contacts/{contactId}
func (api *MessagesAPI) HandleUpsertContact(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	contactID, err := uuidParam(r, "contactId")
	if err != nil {
		writeJSONError(w, "invalid contact ID", http.StatusBadRequest)
		return
	}

	var c domain.Contact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c.ID = contactID
	c.OrganizationID = orgID

	if err := api.contacts.UpsertContact(r.Context(), &c); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleGetContact fetches one contact projection row.
// GET /api/v1/contacts/{contactId}
func (api *MessagesAPI) HandleGetContact(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	contactID, err := uuidParam(r, "contactId")
	if err != nil {
		writeJSONError(w, "invalid contact ID", http.StatusBadRequest)
		return
	}

	c, err := api.contacts.GetContact(r.Context(), orgID, contactID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleSetSubscription flips a contact's subscription flag.
// PATCH /api/v1/contacts/{contactId}/subscription
func (api *MessagesAPI) HandleSetSubscription(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	contactID, err := uuidParam(r, "contactId")
	if err != nil {
		writeJSONError(w, "invalid contact ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Subscribed bool `json:"subscribed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := api.contacts.SetSubscribed(r.Context(), orgID, contactID, req.Subscribed); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": contactID, "subscribed": req.Subscribed})
}
