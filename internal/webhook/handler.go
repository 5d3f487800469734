// Package webhook handles inbound WhatsApp Cloud API webhooks: the GET
// verification handshake and POST event ingestion. Ingestion is
// best-effort: payload shape errors are logged and acknowledged, never
// reported back to the provider, to avoid retry storms.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkhera/wafunnel/internal/database"
	"github.com/mkhera/wafunnel/internal/dispatcher"
	"github.com/mkhera/wafunnel/internal/funnel"
)

const ackBody = "EVENT_RECEIVED"

// Scheduler schedules the delayed sends of a matched funnel trigger.
type Scheduler interface {
	Schedule(d dispatcher.Dispatch) (dispatcher.Handle, error)
}

// Handler processes inbound webhook requests.
type Handler struct {
	store       database.Store
	registry    *funnel.Registry
	scheduler   Scheduler
	verifyToken string
	logger      *slog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(store database.Store, registry *funnel.Registry, scheduler Scheduler, verifyToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		store:       store,
		registry:    registry,
		scheduler:   scheduler,
		verifyToken: verifyToken,
		logger:      logger.With("component", "webhook"),
	}
}

// Routes returns the webhook router: GET for verification, POST for events.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.verify)
	r.Post("/", h.receive)
	return r
}

// verify answers the provider's subscription handshake. The challenge is
// echoed only when both the mode and the shared verify token match; a
// mismatch gets a 403 that never includes the configured token.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		h.logger.InfoContext(r.Context(), "Webhook verified successfully")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	h.logger.WarnContext(r.Context(), "Webhook verification failed", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
	fmt.Fprint(w, "verification token mismatch")
}

// Event envelope as pushed by the provider. Only the fields this service
// reads are modeled.
type eventEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// receive ingests one event POST. Whatever happens internally, the
// provider gets a 200 acknowledgement.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ackBody)
	}()

	var envelope eventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to decode webhook payload", "error", err)
		return
	}

	h.process(r.Context(), envelope)
}

func (h *Handler) process(ctx context.Context, envelope eventEnvelope) {
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Changes) == 0 {
		h.logger.DebugContext(ctx, "Webhook event without entry changes, ignoring")
		return
	}

	messages := envelope.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		// Delivery/status callbacks carry no messages. Normal no-op.
		h.logger.DebugContext(ctx, "Webhook event without messages, ignoring")
		return
	}

	msg := messages[0]
	if msg.From == "" {
		h.logger.WarnContext(ctx, "Inbound message missing sender, ignoring")
		return
	}

	switch msg.Type {
	case database.KindText:
		if msg.Text == nil {
			h.logger.WarnContext(ctx, "Text message missing body, ignoring", "from", msg.From)
			return
		}
		h.handleText(ctx, msg.From, msg.Text.Body)
	default:
		kind := msg.Type
		if kind == "" {
			kind = "unknown"
		}
		h.append(ctx, &database.Message{
			ConversationID: msg.From,
			Body:           fmt.Sprintf("(%s received)", kind),
			Kind:           kind,
		})
		h.logger.InfoContext(ctx, "Non-text message received", "from", msg.From, "kind", kind)
	}
}

func (h *Handler) handleText(ctx context.Context, from, body string) {
	h.append(ctx, &database.Message{
		ConversationID: from,
		Body:           body,
		Kind:           database.KindText,
	})
	h.logger.InfoContext(ctx, "Text message received", "from", from)

	steps, ok := h.registry.Match(body)
	if !ok {
		return
	}

	// All steps of a trigger are scheduled up front, relative to now.
	// Repeated triggers schedule independent sets; no dedup.
	now := time.Now()
	scheduled := 0
	for _, step := range steps {
		_, err := h.scheduler.Schedule(dispatcher.Dispatch{
			To:       from,
			Template: step.Template,
			FireAt:   now.Add(step.Delay()),
		})
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to schedule funnel step",
				"from", from, "template", step.Template, "error", err)
			continue
		}
		scheduled++
	}

	h.logger.InfoContext(ctx, "Funnel trigger matched",
		"keyword", funnel.Normalize(body),
		"from", from,
		"steps_scheduled", scheduled)
}

func (h *Handler) append(ctx context.Context, message *database.Message) {
	if err := h.store.AppendMessage(ctx, message); err != nil {
		h.logger.ErrorContext(ctx, "Failed to append inbound message",
			"conversation_id", message.ConversationID, "error", err)
	}
}
