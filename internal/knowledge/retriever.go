// Package knowledge selects the knowledge snippets passed to the model as
// prompt context. Selection is category filtering ordered by recency.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guesthouse-sms-agent/internal/domain"
)

const (
	GeneralLimit = 20
	ScopedLimit  = 5
)

// DefaultCategories is the allow-list used by the general path.
var DefaultCategories = []string{"PARTY", "RESERVATION", "CHECKIN", "CHECKOUT"}

// Lister reads knowledge entries ordered most recently updated first.
type Lister interface {
	ListKnowledge(ctx context.Context, categories []string, limit int) ([]domain.KnowledgeEntry, error)
}

// Retriever is deterministic for identical inputs and an unchanged table.
type Retriever struct {
	store      Lister
	categories []string
}

type Option func(*Retriever)

// WithCategories replaces the general-path allow-list.
func WithCategories(categories ...string) Option {
	return func(r *Retriever) {
		var cleaned []string
		for _, c := range categories {
			if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
				cleaned = append(cleaned, c)
			}
		}
		if len(cleaned) > 0 {
			r.categories = cleaned
		}
	}
}

func New(store Lister, opts ...Option) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("knowledge: store must not be nil")
	}
	r := &Retriever{store: store, categories: append([]string(nil), DefaultCategories...)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns up to ScopedLimit entries whose category equals
// scopeIntent, or, when scopeIntent is empty or matches nothing, up to
// GeneralLimit entries from the allow-listed categories.
func (r *Retriever) Retrieve(ctx context.Context, scopeIntent string) ([]domain.KnowledgeEntry, error) {
	if scope := strings.TrimSpace(scopeIntent); scope != "" {
		scoped, err := r.store.ListKnowledge(ctx, []string{scope}, ScopedLimit)
		if err != nil {
			return nil, fmt.Errorf("knowledge: Retrieve scoped %q: %w", scope, err)
		}
		if len(scoped) > 0 {
			return scoped, nil
		}
	}
	entries, err := r.store.ListKnowledge(ctx, r.categories, GeneralLimit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: Retrieve: %w", err)
	}
	return entries, nil
}

// Categories returns the general-path allow-list.
func (r *Retriever) Categories() []string {
	return append([]string(nil), r.categories...)
}
