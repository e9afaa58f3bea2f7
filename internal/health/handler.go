// Package health exposes liveness/readiness probes over this service's
// external collaborators (metadata store, presence, and an optional gRPC
// peer).
package health

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/presence"
)

// PeerChecker checks an optional downstream gRPC service's health endpoint
// (e.g. a sidecar blob-store gateway deployed with its own health service).
type PeerChecker interface {
	Check(ctx context.Context, addr string) string
}

type grpcPeerChecker struct{}

func (grpcPeerChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logging.Error(ctx, "failed to connect to peer for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		logging.Error(ctx, "peer health check RPC failed", zap.Error(err))
		return "unhealthy"
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "peer is not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}
	return "healthy"
}

// Pinger is the metadata/blob store capability this handler needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	presenceSvc *presence.Service
	storePinger Pinger

	peerAddr    string
	peerEnabled bool
	peerChecker PeerChecker
}

func NewHandler(presenceSvc *presence.Service, storePinger Pinger) *Handler {
	peerAddr := os.Getenv("HEALTH_PEER_ADDR")
	return &Handler{
		presenceSvc: presenceSvc,
		storePinger: storePinger,
		peerAddr:    peerAddr,
		peerEnabled: peerAddr != "",
		peerChecker: grpcPeerChecker{},
	}
}

type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness: GET /health/live. 200 whenever the process is alive.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{Status: "alive", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// Readiness: GET /health/ready. 200 only if all checked dependencies
// respond; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	checks["presence"] = h.checkPresence(ctx)
	if checks["presence"] != "healthy" {
		allHealthy = false
	}

	checks["metadata_store"] = h.checkStore(ctx)
	if checks["metadata_store"] != "healthy" {
		allHealthy = false
	}

	if h.peerEnabled {
		checks["peer"] = h.peerChecker.Check(ctx, h.peerAddr)
		if checks["peer"] != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{Status: status, Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func (h *Handler) checkPresence(ctx context.Context) string {
	if h.presenceSvc == nil {
		return "healthy" // single-instance mode, no redis configured
	}
	if err := h.presenceSvc.Ping(ctx); err != nil {
		logging.Error(ctx, "presence health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.storePinger == nil {
		return "healthy"
	}
	if err := h.storePinger.Ping(ctx); err != nil {
		logging.Error(ctx, "metadata store health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
