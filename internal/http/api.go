// Package http exposes the read-mostly control API over the task registry.
// The orchestrator remains the only writer of task state; the API creates
// pending records and requests removals.
package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"btbridge/internal/domain"
	"btbridge/internal/gateway"
	"btbridge/internal/orchestrator"
	"btbridge/internal/store"
)

// AuthConfig carries the single operator credential protecting the API.
type AuthConfig struct {
	JWTSecret    string
	PasswordHash string // bcrypt hash of the operator password
	TokenTTL     time.Duration
}

// Handler wires HTTP routes to the task registry and orchestrator.
type Handler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
	auth  AuthConfig
}

func NewHandler(st store.Store, orch *orchestrator.Orchestrator, auth AuthConfig) *Handler {
	if auth.TokenTTL <= 0 {
		auth.TokenTTL = 12 * time.Hour
	}
	return &Handler{store: st, orch: orch, auth: auth}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.POST("/api/login", h.login)
	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", h.authMiddleware())
	{
		api.POST("/tasks", h.createTask)
		api.GET("/tasks", h.listTasks)
		api.GET("/tasks/:id", h.getTask)
		api.DELETE("/tasks/:id", h.removeTask)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.auth.PasswordHash == "" || h.auth.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "api auth is not configured"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.auth.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.auth.TokenTTL)),
	})
	signed, err := token.SignedString([]byte(h.auth.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed})
}

func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(h.auth.JWTSecret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

type createTaskRequest struct {
	Source string `json:"source" binding:"required"`
}

func (h *Handler) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := gateway.ValidateSource(req.Source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if existing, err := h.store.FindBySource(ctx, req.Source); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "source already tracked",
			"task":  taskToResponse(*existing),
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	task := domain.Task{
		ID:        uuid.NewString(),
		Source:    req.Source,
		State:     domain.TaskStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Save(ctx, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, taskToResponse(task))
}

func (h *Handler) listTasks(c *gin.Context) {
	tasks, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskToResponse(tasks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTask(c *gin.Context) {
	task, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskToResponse(*task))
}

func (h *Handler) removeTask(c *gin.Context) {
	purge, err := strconv.ParseBool(c.DefaultQuery("purge", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag purge"})
		return
	}

	task, err := h.orch.Remove(c.Request.Context(), c.Param("id"), purge)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskToResponse(*task))
}

type TaskResponse struct {
	ID              string  `json:"id"`
	Source          string  `json:"source"`
	State           string  `json:"state"`
	DownloadHandle  string  `json:"download_handle,omitempty"`
	Name            string  `json:"name,omitempty"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	LocalPath       string  `json:"local_path,omitempty"`
	RemotePath      string  `json:"remote_path,omitempty"`
	Error           string  `json:"error,omitempty"`
	Retries         int     `json:"retries"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	DownloadedAt    *string `json:"downloaded_at,omitempty"`
	UploadedAt      *string `json:"uploaded_at,omitempty"`
}

func taskToResponse(task domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID,
		Source:          task.Source,
		State:           string(task.State),
		DownloadHandle:  task.DownloadHandle,
		Name:            task.Name,
		Progress:        task.Progress,
		DownloadedBytes: task.DownloadedBytes,
		TotalBytes:      task.TotalBytes,
		LocalPath:       task.LocalPath,
		RemotePath:      task.RemotePath,
		Error:           task.ErrorMessage,
		Retries:         task.Retries,
		CreatedAt:       task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       task.UpdatedAt.Format(time.RFC3339),
	}
	if task.DownloadedAt != nil {
		v := task.DownloadedAt.Format(time.RFC3339)
		resp.DownloadedAt = &v
	}
	if task.UploadedAt != nil {
		v := task.UploadedAt.Format(time.RFC3339)
		resp.UploadedAt = &v
	}
	return resp
}
