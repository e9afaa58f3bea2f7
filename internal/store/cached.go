package store

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

// CachedMetadataStore wraps a MetadataStore with a project-metadata LRU
// cache (invalidated on any project mutation) and a circuit
// breaker around the backing store, since the metadata store is an
// external collaborator whose failures must degrade rather than cascade.
type CachedMetadataStore struct {
	MetadataStore
	cache *lru.Cache[model.ProjectID, model.ProjectMetadata]
	cb    *gobreaker.CircuitBreaker
}

// NewCachedMetadataStore wraps backing with a bounded project cache. size
// mirrors the resolver cache's default of 500 unless the caller overrides it.
func NewCachedMetadataStore(backing MetadataStore, size int) (*CachedMetadataStore, error) {
	if size <= 0 {
		size = 500
	}
	c, err := lru.New[model.ProjectID, model.ProjectMetadata](size)
	if err != nil {
		return nil, err
	}
	st := gobreaker.Settings{
		Name:        "metadata-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("metadata-store").Set(v)
		},
	}
	return &CachedMetadataStore{
		MetadataStore: backing,
		cache:         c,
		cb:            gobreaker.NewCircuitBreaker(st),
	}, nil
}

func (s *CachedMetadataStore) GetProject(ctx context.Context, id model.ProjectID) (*model.ProjectMetadata, error) {
	if p, ok := s.cache.Get(id); ok {
		metrics.ResolverCacheHits.WithLabelValues("project_hit").Inc()
		cp := p
		return &cp, nil
	}
	metrics.ResolverCacheHits.WithLabelValues("project_miss").Inc()

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.MetadataStore.GetProject(ctx, id)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, usererr.DatabaseError(err)
		}
		return nil, err
	}
	p := res.(*model.ProjectMetadata)
	s.cache.Add(id, *p)
	return p, nil
}

func (s *CachedMetadataStore) CreateProject(ctx context.Context, p model.ProjectMetadata) error {
	if err := s.MetadataStore.CreateProject(ctx, p); err != nil {
		return err
	}
	s.cache.Add(p.ID, p)
	return nil
}

func (s *CachedMetadataStore) UpdateProject(ctx context.Context, p model.ProjectMetadata) error {
	if err := s.MetadataStore.UpdateProject(ctx, p); err != nil {
		return err
	}
	// Invalidate rather than replace: a concurrent writer may have raced us
	// (storage rows are the source of truth, not the cache).
	s.cache.Remove(p.ID)
	return nil
}

func (s *CachedMetadataStore) DeleteProject(ctx context.Context, id model.ProjectID) error {
	if err := s.MetadataStore.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.cache.Remove(id)
	return nil
}

var _ MetadataStore = (*CachedMetadataStore)(nil)
