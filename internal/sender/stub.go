package sender

import (
	"context"
	"sync"

	"github.com/relaycrm/orchestrator/internal/domain"
)

// StubSender is an in-memory ChannelSender for tests. Err, when set, is
// returned for every send; Sent records accepted messages.
type StubSender struct {
	ChannelName domain.Channel
	Err         error

	mu   sync.Mutex
	Sent []Message
}

// Channel implements ChannelSender.
func (s *StubSender) Channel() domain.Channel {
	return s.ChannelName
}

// Send records the message or returns the configured error.
func (s *StubSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	s.Sent = append(s.Sent, *msg)
	s.mu.Unlock()
	return &SendResult{ProviderMessageID: "stub-" + msg.To, Provider: "stub"}, nil
}

// SentCount returns how many messages were accepted.
func (s *StubSender) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}
