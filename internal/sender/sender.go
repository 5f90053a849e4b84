// Package sender delivers rendered messages over the configured channels and
// drives the retry state machine for executions, campaign recipients and
// one-off scheduled messages.
package sender

import (
	"context"
	"fmt"

	"github.com/relaycrm/orchestrator/internal/domain"
)

// Message is a fully rendered, addressed message ready for a provider.
type Message struct {
	To       string
	Subject  string
	Body     string
	FromName string
	FromAddr string

	// Tags are attached to the provider send for downstream event
	// correlation (opens, clicks, conversions).
	Tags map[string]string
}

// SendResult reports a successful provider accept.
type SendResult struct {
	ProviderMessageID string
	Provider          string
}

// ChannelSender delivers one message over one channel. Implementations return
// *domain.DeliveryError for transient provider failures (retryable) and plain
// errors for permanent ones (bad address, misconfiguration).
type ChannelSender interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// Registry maps channels to their configured senders.
type Registry struct {
	senders map[domain.Channel]ChannelSender
}

// NewRegistry builds a registry from the given senders.
func NewRegistry(senders ...ChannelSender) *Registry {
	r := &Registry{senders: make(map[domain.Channel]ChannelSender, len(senders))}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

// For returns the sender for a channel, or an error when none is configured.
// A missing channel is a configuration problem, never retried.
func (r *Registry) For(ch domain.Channel) (ChannelSender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("no sender configured for channel %q", ch)
	}
	return s, nil
}
