// Package snippet stores (source, query, options) triples under a short
// identifier derived from their content, so saving the same snippet twice
// yields the same slug.
package snippet

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"golang.org/x/sync/singleflight"
)

// Backend persists snippet records. Upsert of an existing slug must keep the
// original created_at. Lookup returns model.ErrNotFound for unknown slugs.
type Backend interface {
	Upsert(ctx context.Context, rec model.SnippetRecord) error
	Lookup(ctx context.Context, slug string) (model.SnippetRecord, error)
	Close() error
}

type Store struct {
	backend Backend
	group   singleflight.Group
	now     func() time.Time
}

func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		now:     time.Now,
	}
}

// Put validates s and stores it under its content derived slug. Options are
// stored sorted, so every put of a slug writes the same row. Concurrent puts
// of the same content share a single write.
func (s *Store) Put(ctx context.Context, snip model.Snippet) (string, error) {
	if err := snip.Validate(); err != nil {
		return "", err
	}
	snip.Options = slices.Sorted(slices.Values(snip.Options))
	canonical, err := Canonical(snip)
	if err != nil {
		return "", fmt.Errorf("canonicalizing snippet: %w", err)
	}
	slug := Slug(canonical)

	_, err, shared := s.group.Do(slug, func() (any, error) {
		rec := model.SnippetRecord{
			Slug:      slug,
			Snippet:   snip.WithDefaults(),
			CreatedAt: s.now().UTC(),
		}
		// the write is shared by other callers, do not let one of them cancel it
		return nil, s.backend.Upsert(context.WithoutCancel(ctx), rec)
	})
	if err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "snippet stored", "slug", slug, "shared", shared)
	return slug, nil
}

// Get returns the snippet stored under slug. Malformed slugs are reported as
// model.ErrNotFound without reaching the backend.
func (s *Store) Get(ctx context.Context, slug string) (model.Snippet, error) {
	if !ValidSlug(slug) {
		return model.Snippet{}, fmt.Errorf("%w: invalid slug %q", model.ErrNotFound, slug)
	}
	rec, err := s.backend.Lookup(ctx, slug)
	if err != nil {
		return model.Snippet{}, err
	}
	return rec.Snippet.WithDefaults(), nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
