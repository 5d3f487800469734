// Package funnel manages keyword-triggered funnel definitions: ordered
// lists of delayed template sends matched against inbound message text.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mkhera/wafunnel/internal/database"
)

var (
	// ErrNotFound is returned when no funnel exists for a keyword.
	ErrNotFound = errors.New("funnel not found")

	// ErrInvalidFunnel is returned when a funnel definition fails validation.
	ErrInvalidFunnel = errors.New("invalid funnel")
)

// Registry holds the authoritative in-memory copy of all funnel
// definitions, loaded once at startup. Every mutation is persisted
// synchronously through the store before it is visible to readers.
type Registry struct {
	store    database.Store
	logger   *slog.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	funnels map[string][]database.FunnelStep
}

// NewRegistry creates a registry and loads all persisted funnel
// definitions. An unreadable store is treated as empty, not fatal.
func NewRegistry(ctx context.Context, store database.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With("component", "funnel_registry")

	funnels, err := store.Funnels(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load funnels, starting with empty registry", "error", err)
		funnels = make(map[string][]database.FunnelStep)
	}
	log.InfoContext(ctx, "Funnel registry loaded", "funnels", len(funnels))

	return &Registry{
		store:    store,
		logger:   log,
		validate: validator.New(),
		funnels:  funnels,
	}
}

// Normalize returns the canonical form of a keyword or trigger text:
// surrounding whitespace trimmed, lower-cased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// All returns a copy of every funnel definition keyed by keyword.
func (r *Registry) All() map[string][]database.FunnelStep {
	r.mu.RLock()
	defer r.mu.RUnlock()

	funnels := make(map[string][]database.FunnelStep, len(r.funnels))
	for keyword, steps := range r.funnels {
		funnels[keyword] = append([]database.FunnelStep(nil), steps...)
	}
	return funnels
}

// Match normalizes inbound text and looks it up as a trigger keyword.
// Returns the ordered step list and whether a funnel matched.
func (r *Registry) Match(text string) ([]database.FunnelStep, bool) {
	keyword := Normalize(text)
	if keyword == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	steps, ok := r.funnels[keyword]
	if !ok {
		return nil, false
	}
	return append([]database.FunnelStep(nil), steps...), true
}

// Save validates and stores a funnel definition, replacing any existing
// step list for the keyword. The definition is persisted before the
// in-memory copy is updated; if persistence fails the registry is unchanged.
func (r *Registry) Save(ctx context.Context, keyword string, steps []database.FunnelStep) error {
	keyword = Normalize(keyword)
	if keyword == "" {
		return fmt.Errorf("%w: keyword is required", ErrInvalidFunnel)
	}
	if len(steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidFunnel)
	}
	for i, step := range steps {
		if err := r.validate.Struct(step); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidFunnel, i+1, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SaveFunnel(ctx, keyword, steps); err != nil {
		return fmt.Errorf("failed to persist funnel %q: %w", keyword, err)
	}
	r.funnels[keyword] = append([]database.FunnelStep(nil), steps...)

	r.logger.InfoContext(ctx, "Funnel saved", "keyword", keyword, "steps", len(steps))
	return nil
}

// Delete removes a funnel definition. Returns ErrNotFound if the keyword is
// not registered; the registry and store are left unchanged in that case.
func (r *Registry) Delete(ctx context.Context, keyword string) error {
	keyword = Normalize(keyword)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.funnels[keyword]; !ok {
		return fmt.Errorf("funnel %q: %w", keyword, ErrNotFound)
	}
	if err := r.store.DeleteFunnel(ctx, keyword); err != nil && !errors.Is(err, database.ErrFunnelNotFound) {
		return fmt.Errorf("failed to delete funnel %q: %w", keyword, err)
	}
	delete(r.funnels, keyword)

	r.logger.InfoContext(ctx, "Funnel deleted", "keyword", keyword)
	return nil
}
