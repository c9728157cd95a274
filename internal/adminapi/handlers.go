// Package adminapi serves read-mostly operational endpoints for the SMPP
// server over HTTP.
package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/aegisbox-smsc/internal/session"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// Source is the view of the SMPP server the API reads. *smppserver.Server
// satisfies it.
type Source interface {
	ActiveConnections() int
	PendingReassemblies() int
	Sessions() []session.Session
	CloseSession(id string) bool
}

// HealthCheck reports an unhealthy dependency with a non-nil error.
type HealthCheck func(ctx context.Context) error

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	ActiveConnections   int    `json:"active_connections"`
	BoundSessions       int    `json:"bound_sessions"`
	PendingReassemblies int    `json:"pending_reassemblies"`
	GatewayBreaker      string `json:"gateway_breaker,omitempty"`
}

// SessionResponse describes one open connection.
type SessionResponse struct {
	ID         string `json:"id"`
	SystemID   string `json:"system_id,omitempty"`
	RemoteAddr string `json:"remote_addr"`
	State      string `json:"state"`
	Bound      bool   `json:"bound"`
}

// PaginatedListResponse wraps a page of results.
type PaginatedListResponse struct {
	Data       any   `json:"data"`
	Pagination Total `json:"pagination"`
}

type Total struct {
	Total  int64 `json:"total"`
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

// Handler holds the API's collaborators.
type Handler struct {
	source       Source
	checks       map[string]HealthCheck
	breakerState func() string
}

// NewHandler builds the handler set. breakerState may be nil.
func NewHandler(source Source, checks map[string]HealthCheck, breakerState func() string) *Handler {
	return &Handler{source: source, checks: checks, breakerState: breakerState}
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router gin.IRouter, h *Handler) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Status)
		api.GET("/sessions", h.ListSessions)
		api.DELETE("/sessions/:id", h.CloseSession)
	}
}

// Health runs every registered check.
func (h *Handler) Health(c *gin.Context) {
	results := gin.H{}
	healthy := true
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			slog.WarnContext(c.Request.Context(), "Health check failed", slog.String("check", name), slog.Any("error", err))
			results[name] = "error"
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": results})
}

func (h *Handler) Status(c *gin.Context) {
	resp := StatusResponse{
		ActiveConnections:   h.source.ActiveConnections(),
		PendingReassemblies: h.source.PendingReassemblies(),
	}
	for _, s := range h.source.Sessions() {
		if s.IsAuthenticated() {
			resp.BoundSessions++
		}
	}
	if h.breakerState != nil {
		resp.GatewayBreaker = h.breakerState()
	}
	c.JSON(http.StatusOK, resp)
}

// ListSessions pages through open connections ordered by session id.
// ?system_id= narrows the list to one bound identity.
func (h *Handler) ListSessions(c *gin.Context) {
	limit, offset := parsePagination(c)
	systemID := c.Query("system_id")

	var all []SessionResponse
	for _, s := range h.source.Sessions() {
		if systemID != "" && s.SystemID() != systemID {
			continue
		}
		all = append(all, SessionResponse{
			ID:         s.ID(),
			SystemID:   s.SystemID(),
			RemoteAddr: s.RemoteAddr(),
			State:      s.State(),
			Bound:      s.IsAuthenticated(),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	page := []SessionResponse{}
	if int(offset) < len(all) {
		end := int(offset) + int(limit)
		if end > len(all) {
			end = len(all)
		}
		page = all[offset:end]
	}
	c.JSON(http.StatusOK, PaginatedListResponse{
		Data:       page,
		Pagination: Total{Total: int64(len(all)), Limit: limit, Offset: offset},
	})
}

// CloseSession drops a connection by session id.
func (h *Handler) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if !h.source.CloseSession(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	slog.InfoContext(c.Request.Context(), "Session closed via admin API", slog.String("session_id", id))
	c.Status(http.StatusNoContent)
}

// parsePagination extracts limit and offset from query params with validation and defaults.
func parsePagination(c *gin.Context) (limit, offset int32) {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(DefaultLimit))
	offsetStr := c.DefaultQuery("offset", strconv.Itoa(DefaultOffset))

	limit64, err := strconv.ParseInt(limitStr, 10, 32)
	if err != nil || limit64 <= 0 {
		limit = DefaultLimit
	} else if limit64 > MaxLimit {
		slog.WarnContext(c.Request.Context(), "Requested limit exceeds maximum, capping.", slog.Int64("requested", limit64), slog.Int("max", MaxLimit))
		limit = MaxLimit
	} else {
		limit = int32(limit64)
	}

	offset64, err := strconv.ParseInt(offsetStr, 10, 32)
	if err != nil || offset64 < 0 {
		offset = DefaultOffset
	} else {
		offset = int32(offset64)
	}

	return limit, offset
}
