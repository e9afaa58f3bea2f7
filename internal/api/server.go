package api

import (
	msgrouter "github.com/netsblox/cloud/internal/router"

	"github.com/netsblox/cloud/internal/address"
	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/friends"
	"github.com/netsblox/cloud/internal/groups"
	"github.com/netsblox/cloud/internal/lifecycle"
	"github.com/netsblox/cloud/internal/presence"
	"github.com/netsblox/cloud/internal/projects"
	"github.com/netsblox/cloud/internal/ratelimit"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/topology"
	"github.com/netsblox/cloud/internal/trace"
	"github.com/netsblox/cloud/internal/wsconn"
)

// Server holds every collaborator a REST handler might need. Handlers are
// methods on *Server so they share these without a global.
type Server struct {
	Metadata  store.MetadataStore
	Blobs     store.BlobStore
	Checker   *auth.Checker
	Extractor *auth.Extractor
	OAuth     *auth.OAuthClients
	Magic     *auth.MagicLinks
	Session   *auth.SessionIssuer

	magicLinkBaseURL string

	Projects  *projects.Actions
	Friends   *friends.Service
	Groups    *groups.Service
	Trace     *trace.Recorder
	Resolver  *address.Resolver
	Router    *msgrouter.Router
	Topology  *topology.Topology
	Lifecycle *lifecycle.Manager
	WS        *wsconn.Server
	Presence  *presence.Service
	RateLimit *ratelimit.RateLimiter
}

// SetMagicLinkBaseURL configures the base URL magic-link emails embed
// their one-time token under.
func (s *Server) SetMagicLinkBaseURL(base string) {
	s.magicLinkBaseURL = base
}
