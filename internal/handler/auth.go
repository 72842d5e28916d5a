package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/gateway"
	"skysurvey-agent/internal/middleware"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/store"
	"skysurvey-agent/internal/syncer"
)

type AuthHandler struct {
	Gateway      *gateway.Gateway
	API          *apiclient.Client
	Net          *netwatch.Tracker
	Syncer       *syncer.Syncer
	Devices      gateway.DeviceIdentity
	LoginLimiter *middleware.RateLimiter
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerBody struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	EmployeeID string `json:"employeeId"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	if h.LoginLimiter != nil && !h.LoginLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.Gateway.Authenticate(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"online":      result.Online,
		"pendingSync": result.PendingSync,
		"message":     result.Message,
		"data": gin.H{
			"token": result.Session.Token,
			"user":  result.Session.User,
		},
	})
}

// Register is a pass-through; account creation needs the backend, so it is
// refused outright while offline instead of being queued.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Email == "" || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and email are required"})
		return
	}
	if !h.Net.IsOnline() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Registration requires an internet connection"})
		return
	}

	// The device id lets the server block duplicate registrations from
	// this install.
	deviceID, err := h.Devices.GetOrCreate()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Local storage failure"})
		return
	}

	user, err := h.API.Register(c.Request.Context(), apiclient.RegisterRequest{
		Name:       body.Name,
		Email:      body.Email,
		Mobile:     body.Mobile,
		EmployeeID: body.EmployeeID,
		DeviceID:   deviceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, apiclient.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Registration rejected"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Registration failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": user})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.Gateway.Logout(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func writeGatewayError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apiclient.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Local storage failure"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
