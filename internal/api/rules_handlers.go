// Package api exposes the orchestrator's HTTP surface: rule and dependency
// management, trigger ingestion, campaigns, business hours, send-time windows
// and engagement webhooks. Tenancy comes from the X-Organization-ID header.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/rules"
	"github.com/relaycrm/orchestrator/internal/trigger"
)

// RulesAPI provides HTTP handlers for rules, dependencies, triggers and
// executions.
type RulesAPI struct {
	store     *rules.Store
	evaluator *trigger.Evaluator
}

// NewRulesAPI creates the rules API.
func NewRulesAPI(store *rules.Store, evaluator *trigger.Evaluator) *RulesAPI {
	return &RulesAPI{store: store, evaluator: evaluator}
}

// RegisterRoutes registers rule routes.
func (api *RulesAPI) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", api.HandleListRules)
		r.Post("/", api.HandleCreateRule)
		r.Get("/{ruleId}", api.HandleGetRule)
		r.Patch("/{ruleId}/active", api.HandleSetActive)

		r.Get("/{ruleId}/dependencies", api.HandleListDependencies)
		r.Post("/{ruleId}/dependencies", api.HandleAddDependency)
		r.Delete("/{ruleId}/dependencies/{dependsOnId}", api.HandleRemoveDependency)

		r.Post("/{ruleId}/evaluate", api.HandleEvaluate)
		r.Post("/{ruleId}/preview", api.HandlePreview)
	})

	r.Post("/triggers/events", api.HandleContactEvent)

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", api.HandleListExecutions)
		r.Get("/{executionId}", api.HandleGetExecution)
		r.Post("/{executionId}/conversion", api.HandleRecordConversion)
	})
}

// HandleCreateRule creates a rule.
// POST /api/v1/rules
func (api *RulesAPI) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rule.OrganizationID = orgID
	rule.Active = true

	if err := api.store.CreateRule(r.Context(), &rule); err != nil {
		if rule.Validate() != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// HandleListRules lists an organization's rules.
// GET /api/v1/rules
func (api *RulesAPI) HandleListRules(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	ruleList, err := api.store.ListRules(r.Context(), orgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ruleList == nil {
		ruleList = []domain.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": ruleList, "total": len(ruleList)})
}

// HandleGetRule fetches one rule.
// GET /api/v1/rules/{ruleId}
func (api *RulesAPI) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}

	rule, err := api.store.GetRule(r.Context(), orgID, ruleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// HandleSetActive enables or disables a rule.
// PATCH /api/v1/rules/{ruleId}/active
func (api *RulesAPI) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := api.store.SetRuleActive(r.Context(), orgID, ruleID, req.Active); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": ruleID, "active": req.Active})
}

// HandleAddDependency adds a dependency edge. A rejected cycle comes back as
// 409 with nothing persisted.
// POST /api/v1/rules/{ruleId}/dependencies
func (api *RulesAPI) HandleAddDependency(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}

	var req struct {
		DependsOnRuleID uuid.UUID             `json:"depends_on_rule_id"`
		Type            domain.DependencyType `json:"type"`
		DelayMinutes    int                   `json:"delay_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	dep := &domain.RuleDependency{
		OrganizationID:  orgID,
		RuleID:          ruleID,
		DependsOnRuleID: req.DependsOnRuleID,
		Type:            req.Type,
		DelayMinutes:    req.DelayMinutes,
	}
	if err := api.store.AddDependency(r.Context(), dep); err != nil {
		if errors.Is(err, domain.ErrCircularDependency) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		if !dep.Type.Valid() || dep.DelayMinutes < 0 {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

// HandleRemoveDependency deletes a dependency edge.
// DELETE /api/v1/rules/{ruleId}/dependencies/{dependsOnId}
func (api *RulesAPI) HandleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}
	dependsOnID, err := uuidParam(r, "dependsOnId")
	if err != nil {
		writeJSONError(w, "invalid dependency ID", http.StatusBadRequest)
		return
	}

	if err := api.store.RemoveDependency(r.Context(), orgID, ruleID, dependsOnID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListDependencies lists a rule's edges in both directions.
// GET /api/v1/rules/{ruleId}/dependencies
func (api *RulesAPI) HandleListDependencies(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}

	dependsOn, err := api.store.DependenciesOf(r.Context(), orgID, ruleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	dependents, err := api.store.DependentsOf(r.Context(), orgID, ruleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if dependsOn == nil {
		dependsOn = []domain.RuleDependency{}
	}
	if dependents == nil {
		dependents = []domain.RuleDependency{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depends_on": dependsOn,
		"dependents": dependents,
	})
}

// HandleEvaluate triggers a rule for one contact.
// POST /api/v1/rules/{ruleId}/evaluate
func (api *RulesAPI) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}

	var req struct {
		ContactID uuid.UUID `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == uuid.Nil {
		writeJSONError(w, "contact_id is required", http.StatusBadRequest)
		return
	}

	result, err := api.evaluator.Evaluate(r.Context(), orgID, ruleID, req.ContactID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandlePreview renders a rule's message for a contact without persisting or
// sending anything.
// POST /api/v1/rules/{ruleId}/preview
func (api *RulesAPI) HandlePreview(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		writeJSONError(w, "invalid rule ID", http.StatusBadRequest)
		return
	}

	var req struct {
		ContactID uuid.UUID `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == uuid.Nil {
		writeJSONError(w, "contact_id is required", http.StatusBadRequest)
		return
	}

	preview, err := api.evaluator.Preview(r.Context(), orgID, ruleID, req.ContactID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// HandleContactEvent ingests one contact event and fans it out to matching
// rules.
// POST /api/v1/triggers/events
func (api *RulesAPI) HandleContactEvent(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	var req struct {
		ContactID   uuid.UUID          `json:"contact_id"`
		TriggerType domain.TriggerType `json:"trigger_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == uuid.Nil {
		writeJSONError(w, "contact_id is required", http.StatusBadRequest)
		return
	}
	if !req.TriggerType.Valid() {
		writeJSONError(w, "unknown trigger type", http.StatusBadRequest)
		return
	}

	results, err := api.evaluator.EvaluateEvent(r.Context(), orgID, req.ContactID, req.TriggerType)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if results == nil {
		results = []trigger.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "total": len(results)})
}

// HandleListExecutions lists executions, optionally filtered by status.
// GET /api/v1/executions?status=scheduled
func (api *RulesAPI) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}

	status := domain.ExecutionStatus(r.URL.Query().Get("status"))
	execs, err := api.store.ListExecutions(r.Context(), orgID, status, 100)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": execs, "total": len(execs)})
}

// HandleGetExecution fetches one execution.
// GET /api/v1/executions/{executionId}
func (api *RulesAPI) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	execID, err := uuidParam(r, "executionId")
	if err != nil {
		writeJSONError(w, "invalid execution ID", http.StatusBadRequest)
		return
	}

	exec, err := api.store.GetExecution(r.Context(), orgID, execID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// HandleRecordConversion attaches a conversion event to an execution.
// POST /api/v1/executions/{executionId}/conversion
func (api *RulesAPI) HandleRecordConversion(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "invalid organization ID", http.StatusBadRequest)
		return
	}
	execID, err := uuidParam(r, "executionId")
	if err != nil {
		writeJSONError(w, "invalid execution ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeJSONError(w, "type is required", http.StatusBadRequest)
		return
	}

	if err := api.store.RecordConversion(r.Context(), orgID, execID, req.Type, req.Value); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
