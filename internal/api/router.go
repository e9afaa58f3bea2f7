package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/netsblox/cloud/internal/health"
	"github.com/netsblox/cloud/internal/middleware"
)

// NewRouter wires every REST route onto a gin engine: recovery, CORS,
// correlation id, tracing and rate limiting as global middleware,
// identity extraction ahead of every witness check, then one route group
// per resource.
//
// gin's radix-tree router rejects a path parameter registered as a
// sibling of a static segment (and two different parameter names at the
// same position), so parameterized routes nest under static prefixes:
// roles under /roles/:roleId, client-scoped network routes under
// /clients/:clientId, group reads under /groups/id/:id, and the
// session endpoints under /auth.
func NewRouter(s *Server, health *health.Handler, allowedOrigins []string, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:8080"}
	}
	corsCfg.AllowOrigins = allowedOrigins
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Client-Id", "X-Authorized-Host-Id", "X-Correlation-Id")
	r.Use(cors.New(corsCfg))

	r.Use(middleware.CorrelationID())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(s.Extractor.Middleware())
	r.Use(s.RateLimit.GlobalMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health/live", health.Liveness)
	r.GET("/health/ready", health.Readiness)

	projectsGroup := r.Group("/projects")
	{
		projectsGroup.POST("/", s.CreateProject)
		projectsGroup.GET("/user/:owner", s.ListProjectsByOwner)
		projectsGroup.GET("/user/:owner/:name", s.GetProjectByName)
		projectsGroup.GET("/shared/:user", s.ListProjectsSharedWith)
		projectsGroup.GET("/id/:id", s.GetProject)
		projectsGroup.GET("/id/:id/metadata", s.GetProjectMetadata)
		projectsGroup.GET("/id/:id/latest", s.GetLatestProject)
		projectsGroup.GET("/id/:id/thumbnail", s.GetThumbnail)
		projectsGroup.POST("/id/:id/publish", s.PublishProject)
		projectsGroup.POST("/id/:id/unpublish", s.UnpublishProject)
		projectsGroup.PATCH("/id/:id", s.RenameProject)
		projectsGroup.DELETE("/id/:id", s.DeleteProject)
		projectsGroup.POST("/id/:id/roles/", s.AddRole)
		projectsGroup.GET("/id/:id/roles/:roleId", s.GetRole)
		projectsGroup.POST("/id/:id/roles/:roleId", s.SaveRole)
		projectsGroup.PATCH("/id/:id/roles/:roleId", s.RenameRole)
		projectsGroup.DELETE("/id/:id/roles/:roleId", s.DeleteRole)
		projectsGroup.GET("/id/:id/roles/:roleId/latest", s.GetLatestRole)
		projectsGroup.POST("/id/:id/roles/:roleId/latest", s.ResolveLatestRole)
		projectsGroup.GET("/id/:id/collaborators/:user", s.GetCollaborator)
		projectsGroup.POST("/id/:id/collaborators/:user", s.AddCollaborator)
		projectsGroup.DELETE("/id/:id/collaborators/:user", s.RemoveCollaborator)
		projectsGroup.POST("/id/:id/invitations", s.SendCollabInvite)
	}

	networkGroup := r.Group("/network")
	{
		networkGroup.Use(s.RateLimit.MiddlewareForEndpoint("rooms"))
		networkGroup.GET("/", s.ListRooms)
		networkGroup.GET("/external", s.ListExternalClients)
		networkGroup.GET("/clients", s.ListClients)
		networkGroup.GET("/clients/:clientId/connect", s.Connect)
		networkGroup.POST("/clients/:clientId/state", s.SetClientState)
		networkGroup.POST("/clients/:clientId/evict", s.EvictClient)
		networkGroup.POST("/id/:projectId/occupants/invite", s.InviteOccupant)
		networkGroup.POST("/id/:projectId/trace/", s.StartTrace)
		networkGroup.POST("/id/:projectId/trace/:traceId/stop", s.StopTrace)
		networkGroup.GET("/id/:projectId/trace/:traceId/messages", s.GetTraceMessages)
		networkGroup.DELETE("/id/:projectId/trace/:traceId", s.DeleteTrace)
		networkGroup.POST("/messages/", s.InjectMessage)
		networkGroup.PATCH("/invites/collaboration/:id", s.RespondCollabInvite)
		networkGroup.GET("/invites/occupant", s.ListOccupantInvites)
		networkGroup.GET("/invites/collaboration", s.ListCollabInvites)
	}

	usersGroup := r.Group("/users")
	{
		usersGroup.Use(s.RateLimit.MiddlewareForEndpoint("messages"))
		usersGroup.POST("/", s.CreateUser)
		usersGroup.GET("/", s.ListUsers)
		usersGroup.GET("/:username", s.GetUser)
		usersGroup.DELETE("/:username", s.DeleteUser)
		usersGroup.PATCH("/:username/ban", s.BanUser)
		usersGroup.PATCH("/:username/unban", s.UnbanUser)
		usersGroup.POST("/:username/password/reset", s.RequestPasswordToken)
	}

	authGroup := r.Group("/auth")
	{
		authGroup.GET("/whoami", s.Whoami)
		authGroup.GET("/login/:token", s.ConsumeMagicLink)
		authGroup.POST("/logout", s.Logout)
	}

	friendsGroup := r.Group("/friends")
	{
		friendsGroup.GET("/", s.ListFriends)
		friendsGroup.GET("/invites", s.ListFriendInvites)
		friendsGroup.GET("/online", s.ListOnlineFriends)
		friendsGroup.POST("/:username/invite", s.SendFriendInvite)
		friendsGroup.PATCH("/:username/invite", s.RespondFriendInvite)
		friendsGroup.DELETE("/:username", s.UnfriendUser)
		friendsGroup.POST("/:username/block", s.BlockUser)
		friendsGroup.POST("/:username/unblock", s.UnblockUser)
	}

	groupsGroup := r.Group("/groups")
	{
		groupsGroup.GET("/id/:id/owner", s.GetGroupOwner)
		groupsGroup.GET("/id/:id/members", s.GetGroupMembers)
		groupsGroup.GET("/owned/:owner", s.ListOwnedGroups)
	}

	oauthGroup := r.Group("/oauth")
	{
		oauthGroup.POST("/clients", s.RegisterOAuthClient)
		oauthGroup.DELETE("/clients/:id", s.RevokeOAuthClient)
		oauthGroup.POST("/token", s.IssueOAuthToken)
	}

	return r
}
