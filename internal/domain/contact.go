package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a CRM contact as the orchestrator sees it: enough to address a
// message, check subscription status, and bind template variables. The CRM
// owns the full record; this is a read-mostly projection.
type Contact struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`

	// Attributes are free-form CRM fields exposed to message templates.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	Subscribed     bool       `json:"subscribed"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AddressFor returns the delivery address for the given channel, empty when
// the contact cannot be reached on it.
func (c *Contact) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelWhatsApp:
		return c.Phone
	}
	return ""
}

// TemplateVars builds the variable bindings for template rendering. Built-in
// fields win over same-named custom attributes.
func (c *Contact) TemplateVars() map[string]interface{} {
	vars := make(map[string]interface{}, len(c.Attributes)+5)
	for k, v := range c.Attributes {
		vars[k] = v
	}
	vars["first_name"] = c.FirstName
	vars["last_name"] = c.LastName
	vars["email"] = c.Email
	vars["phone"] = c.Phone
	vars["contact_id"] = c.ID.String()
	return vars
}
