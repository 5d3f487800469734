// Package chat composes the outbound gateway and the message store: a
// successful send is recorded as an outbound message in the conversation's
// history, a failed send records nothing.
package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mkhera/wafunnel/internal/database"
)

// Gateway is the outbound provider dependency: both calls report only
// success or failure.
type Gateway interface {
	SendText(ctx context.Context, to, body string) error
	SendTemplate(ctx context.Context, to, name string) error
}

// Service sends messages through the gateway and records the outcome.
type Service struct {
	store   database.Store
	gateway Gateway
	logger  *slog.Logger
}

// NewService creates a chat service.
func NewService(store database.Store, gateway Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:   store,
		gateway: gateway,
		logger:  logger.With("component", "chat"),
	}
}

// SendText sends a plain text message and, on success, appends it to the
// conversation history as an outbound text message. The provider call is
// made before any store access so no lock is held during network I/O.
func (s *Service) SendText(ctx context.Context, to, body string) error {
	if to == "" || body == "" {
		return fmt.Errorf("recipient and body are required")
	}

	if err := s.gateway.SendText(ctx, to, body); err != nil {
		return err
	}

	s.record(ctx, &database.Message{
		ConversationID: to,
		Body:           body,
		Kind:           database.KindText,
		Outbound:       true,
	})
	return nil
}

// SendTemplate sends a template message and, on success, records an
// outbound message with a synthetic body naming the template. The provider
// renders the template, so the rendered text is never known here.
func (s *Service) SendTemplate(ctx context.Context, to, name string) error {
	if to == "" || name == "" {
		return fmt.Errorf("recipient and template name are required")
	}

	if err := s.gateway.SendTemplate(ctx, to, name); err != nil {
		return err
	}

	s.record(ctx, &database.Message{
		ConversationID: to,
		Body:           "Template: " + name,
		Kind:           database.KindTemplate,
		Outbound:       true,
	})
	return nil
}

// record appends an outbound message. The send already succeeded, so an
// append failure is logged rather than surfaced to the caller.
func (s *Service) record(ctx context.Context, message *database.Message) {
	if err := s.store.AppendMessage(ctx, message); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record outbound message",
			"conversation_id", message.ConversationID,
			"kind", message.Kind,
			"error", err)
	}
}
