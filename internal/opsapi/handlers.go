package opsapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/calllog"
	"voicedesk/internal/store"

	"github.com/gin-gonic/gin"
)

// Handlers groups the operator dashboard's HTTP handlers for dependency
// injection. Keep these thin: parse/validate input, call the store,
// return JSON. Everything here is scoped to the authenticated
// merchant; cross-tenant reads are impossible by construction.

const defaultListLimit = 50
const maxListLimit = 200

type Handlers struct {
	Auth  *auth.Manager
	Store store.Store
	Calls *calllog.Service
}

// --- Auth ---

type loginRequest struct {
	UserID     string `json:"user_id"`
	MerchantID string `json:"merchant_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.MerchantID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, merchant_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.MerchantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Messages ---

func (h Handlers) ListMessages(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	msgs, err := h.Store.ListMessages(c.Request.Context(), merchantID, listLimit(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "message lookup failed"})
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h Handlers) MarkMessageRead(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	messageID := c.Param("id")
	if messageID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message id required"})
		return
	}
	if err := h.Store.MarkMessageRead(c.Request.Context(), merchantID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "message update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

// --- Appointments ---

func (h Handlers) ListAppointments(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	appts, err := h.Store.ListAppointments(c.Request.Context(), merchantID, listLimit(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "appointment lookup failed"})
		return
	}
	if appts == nil {
		appts = []store.Appointment{}
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}

// --- Call events ---

func (h Handlers) ListCallEvents(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log not configured"})
		return
	}
	events, err := h.Calls.List(c.Request.Context(), merchantID, listLimit(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call event lookup failed"})
		return
	}
	if events == nil {
		events = []calllog.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- helpers ---

func requireMerchant(c *gin.Context) (string, bool) {
	merchantID, err := auth.MerchantID(c.Request.Context())
	if err != nil || merchantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "merchant_id required"})
		return "", false
	}
	return merchantID, true
}

func listLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
