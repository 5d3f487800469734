// Package api exposes the JSON admin and chat API: funnel management,
// conversation summaries and history, direct sends, and provider template
// listing. Failures are returned as structured {status, message} results.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkhera/wafunnel/internal/chat"
	"github.com/mkhera/wafunnel/internal/database"
	"github.com/mkhera/wafunnel/internal/funnel"
	"github.com/mkhera/wafunnel/internal/whatsapp"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TemplateLister fetches the provider's approved templates.
type TemplateLister interface {
	ListTemplates(ctx context.Context) ([]whatsapp.Template, error)
}

// Deps holds the handler's collaborators.
type Deps struct {
	Store     database.Store
	Registry  *funnel.Registry
	Chat      *chat.Service
	Templates TemplateLister
	Logger    *slog.Logger
}

type handler struct {
	store     database.Store
	registry  *funnel.Registry
	chat      *chat.Service
	templates TemplateLister
	logger    *slog.Logger
}

// NewHandler builds the API router.
func NewHandler(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{
		store:     deps.Store,
		registry:  deps.Registry,
		chat:      deps.Chat,
		templates: deps.Templates,
		logger:    log.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Get("/funnels", h.listFunnels)
	r.Post("/funnels", h.saveFunnel)
	r.Delete("/funnels/{keyword}", h.deleteFunnel)
	r.Get("/chats", h.listChats)
	r.Get("/chats/{number}", h.chatHistory)
	r.Post("/messages", h.sendMessage)
	r.Get("/templates", h.listTemplates)
	return r
}

func (h *handler) listFunnels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.All())
}

type saveFunnelRequest struct {
	Keyword string                `json:"keyword"`
	Steps   []database.FunnelStep `json:"steps"`
}

func (h *handler) saveFunnel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req saveFunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.registry.Save(r.Context(), req.Keyword, req.Steps); err != nil {
		if errors.Is(err, funnel.ErrInvalidFunnel) {
			respondError(w, http.StatusBadRequest, "Invalid data")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to save funnel", "keyword", req.Keyword, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to save funnel")
		return
	}

	respondSuccess(w, http.StatusOK, "Funnel saved")
}

func (h *handler) deleteFunnel(w http.ResponseWriter, r *http.Request) {
	keyword := chi.URLParam(r, "keyword")

	if err := h.registry.Delete(r.Context(), keyword); err != nil {
		if errors.Is(err, funnel.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Funnel not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to delete funnel", "keyword", keyword, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete funnel")
		return
	}

	respondSuccess(w, http.StatusOK, "Funnel deleted")
}

func (h *handler) listChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.Summaries(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list chats", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list chats")
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

func (h *handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	history, err := h.store.History(r.Context(), number)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to get history", "conversation_id", number, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to get chat history")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.To == "" || req.Body == "" {
		respondError(w, http.StatusBadRequest, "Missing to or body")
		return
	}

	if err := h.chat.SendText(r.Context(), req.To, req.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to send message", "to", req.To, "error", err)
		respondError(w, http.StatusBadGateway, "Failed to send message")
		return
	}

	respondSuccess(w, http.StatusOK, "Message sent")
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list templates", "error", err)
		respondError(w, http.StatusBadGateway, "Failed to fetch templates")
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondSuccess(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, statusResponse{Status: "success", Message: message})
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, statusResponse{Status: "error", Message: message})
}
