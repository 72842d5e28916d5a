package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/syncer"
	"skysurvey-agent/internal/watchdog"
)

type SyncHandler struct {
	Syncer *syncer.Syncer
}

func (h *SyncHandler) Status(c *gin.Context) {
	status, err := h.Syncer.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Local storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

// Trigger kicks off a drain pass. A pass already running absorbs the
// request; the caller learns which happened.
func (h *SyncHandler) Trigger(c *gin.Context) {
	ran := h.Syncer.Trigger(c.Request.Context())
	status, err := h.Syncer.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Local storage failure"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "started": ran, "data": status})
}

type AppHandler struct {
	Net      *netwatch.Tracker
	Watchdog *watchdog.Watchdog
	Syncer   *syncer.Syncer
}

// Resume is called by the UI when it returns to the foreground. The agent
// re-probes connectivity, settles any offline-session debt accrued while
// backgrounded, and drains the queue if the network is there.
func (h *AppHandler) Resume(c *gin.Context) {
	h.Watchdog.OnResume(c.Request.Context())
	if h.Net.IsOnline() {
		go h.Syncer.Trigger(context.Background())
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"online":  h.Net.IsOnline(),
		"state":   h.Watchdog.State(),
	})
}

func (h *AppHandler) Background(c *gin.Context) {
	h.Net.Background()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
