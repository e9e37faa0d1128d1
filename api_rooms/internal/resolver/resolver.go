// Package resolver turns (service, id) pairs into playable video metadata.
package resolver

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"roomdeck/pkg/models"
)

// Resolver fetches metadata for a single video. Implementations return
// models.ErrUnsupportedService, models.ErrInvalidVideoID,
// models.ErrQuotaExhausted or models.ErrFeatureDisabled as appropriate.
type Resolver interface {
	Resolve(ctx context.Context, service, id string) (models.Video, error)
}

// Registry routes resolution to a per-service resolver.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Resolver
	disabled map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]Resolver),
		disabled: make(map[string]bool),
	}
}

// Register installs the resolver for a service name.
func (r *Registry) Register(service string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = res
}

// Disable turns a registered service off; resolution returns
// models.ErrFeatureDisabled until re-enabled.
func (r *Registry) Disable(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[service] = true
}

func (r *Registry) Resolve(ctx context.Context, service, id string) (models.Video, error) {
	r.mu.RLock()
	res, ok := r.services[service]
	disabled := r.disabled[service]
	r.mu.RUnlock()

	if !ok {
		return models.Video{}, models.ErrUnsupportedService
	}
	if disabled {
		return models.Video{}, models.ErrFeatureDisabled
	}
	return res.Resolve(ctx, service, id)
}

// DirectResolver handles direct media URLs: the id is the URL itself and the
// mime type is inferred from the file extension.
type DirectResolver struct{}

func (DirectResolver) Resolve(_ context.Context, _, id string) (models.Video, error) {
	u, err := url.Parse(id)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return models.Video{}, models.ErrInvalidVideoID
	}
	ext := path.Ext(u.Path)
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" || !strings.HasPrefix(mimeType, "video/") {
		return models.Video{}, models.ErrInvalidVideoID
	}
	return models.Video{
		Service: "direct",
		ID:      id,
		Title:   path.Base(u.Path),
		Mime:    mimeType,
	}, nil
}

// StaticResolver serves from a fixed catalog, for tests and local setups.
type StaticResolver struct {
	mu      sync.RWMutex
	catalog map[string]models.Video // id → video
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{catalog: make(map[string]models.Video)}
}

func (s *StaticResolver) Add(v models.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[v.ID] = v
}

func (s *StaticResolver) Resolve(_ context.Context, _, id string) (models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.catalog[id]
	if !ok {
		return models.Video{}, models.ErrVideoNotFound
	}
	return v, nil
}
