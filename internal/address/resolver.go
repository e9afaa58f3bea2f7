// Package address implements the Address Resolver: parsing
// human-readable addresses into concrete routing targets, with an
// invalidation-aware LRU cache.
package address

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/utils/set"

	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
)

const defaultCacheSize = 500

// BrowserAddress is one resolved browser routing target.
type BrowserAddress struct {
	ProjectID model.ProjectID
	RoleID    model.RoleID
}

// ExternalAddress is a direct external-namespace routing target.
type ExternalAddress struct {
	AppID model.AppID
	Raw   string
}

// Resolver turns `[role@]project@owner` or `address#appId` strings into
// BrowserAddress sets, or an external lookup key. The cache carries a
// reverse index (project_id -> cached address strings) so invalidation
// does not scan every entry.
type Resolver struct {
	metadata store.MetadataStore

	mu     sync.Mutex
	cache  *lru.Cache[string, []BrowserAddress]
	byProj map[model.ProjectID]set.Set[string]
}

func New(metadata store.MetadataStore) *Resolver {
	return NewWithSize(metadata, defaultCacheSize)
}

func NewWithSize(metadata store.MetadataStore, size int) *Resolver {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, _ := lru.New[string, []BrowserAddress](size)
	return &Resolver{
		metadata: metadata,
		cache:    c,
		byProj:   make(map[model.ProjectID]set.Set[string]),
	}
}

// ParseExternal reports whether addr is of the `address#appId` shape.
func ParseExternal(addr string) (raw string, appID model.AppID, ok bool) {
	idx := strings.LastIndex(addr, "#")
	if idx < 0 {
		return "", "", false
	}
	return addr[:idx], model.AppID(strings.ToLower(addr[idx+1:])), true
}

// Resolve parses a browser address (`[role@]project@owner`) into the set
// of BrowserAddress tuples it denotes: all roles if the role segment is
// omitted, otherwise the single named role.
func (r *Resolver) Resolve(ctx context.Context, addr string) ([]BrowserAddress, error) {
	if cached, ok := r.cache.Get(addr); ok {
		metrics.ResolverCacheHits.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.ResolverCacheHits.WithLabelValues("miss").Inc()

	parts := strings.Split(addr, "@")
	var roleName, projectName, owner string
	switch len(parts) {
	case 2:
		projectName, owner = parts[0], parts[1]
	case 3:
		roleName, projectName, owner = parts[0], parts[1], parts[2]
	default:
		return nil, fmt.Errorf("malformed address %q", addr)
	}

	proj, err := r.metadata.GetProjectByName(ctx, owner, projectName)
	if err != nil {
		// Unresolved lookups are not cached.
		return nil, err
	}

	var out []BrowserAddress
	for id, role := range proj.Roles {
		if roleName != "" && role.Name != roleName {
			continue
		}
		out = append(out, BrowserAddress{ProjectID: proj.ID, RoleID: id})
	}
	if len(out) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	r.cache.Add(addr, out)
	if r.byProj[proj.ID] == nil {
		r.byProj[proj.ID] = set.New[string]()
	}
	r.byProj[proj.ID].Insert(addr)
	r.mu.Unlock()
	return out, nil
}

// InvalidateProject evicts every cached address that resolved through the
// given project, called on every room-state broadcast.
func (r *Resolver) InvalidateProject(id model.ProjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs, ok := r.byProj[id]
	if !ok {
		return
	}
	for _, a := range addrs.UnsortedList() {
		r.cache.Remove(a)
	}
	delete(r.byProj, id)
}
