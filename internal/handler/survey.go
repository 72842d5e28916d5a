package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/gateway"
	"skysurvey-agent/internal/middleware"
	"skysurvey-agent/internal/model"
	"skysurvey-agent/internal/netwatch"
)

type SurveyHandler struct {
	Gateway *gateway.Gateway
	API     *apiclient.Client
	Net     *netwatch.Tracker
}

func (h *SurveyHandler) Submit(c *gin.Context) {
	var payload model.SurveyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.Gateway.SubmitSurvey(c.Request.Context(), payload)
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	response := gin.H{
		"success": true,
		"online":  result.Online,
		"message": result.Message,
	}
	if result.Record != nil {
		response["data"] = result.Record
	}
	if result.Local != nil {
		response["data"] = result.Local
	}
	c.JSON(http.StatusOK, response)
}

// Submissions merges the server history with surveys still waiting to
// sync. Remote history is best effort; locals always show.
func (h *SurveyHandler) Submissions(c *gin.Context) {
	session, _ := middleware.SessionFromContext(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var remote []model.SubmissionRecord
	if h.Net.IsOnline() && session != nil && session.Confirmed {
		records, err := h.API.PastSubmissions(c.Request.Context(), session.Token, page, limit)
		if err == nil {
			remote = records
		}
	}

	locals, err := h.Gateway.LocalSubmissions()
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	merged := make([]model.SubmissionRecord, 0, len(remote)+len(locals))
	for _, local := range locals {
		merged = append(merged, model.SubmissionRecord{
			ID:                 local.LocalID,
			FlightNumber:       local.Survey.FlightNumber,
			TravelDate:         local.Survey.TravelDate,
			Destination:        local.Survey.Destination,
			TravelReason:       local.Survey.TravelReason,
			AircraftSection:    local.Survey.AircraftSection,
			ReturnTrips:        local.Survey.ReturnTrips,
			Ratings:            local.Survey.Ratings,
			AdditionalComments: local.Survey.AdditionalComments,
			AirportCode:        local.Survey.AirportCode,
			PendingSync:        true,
		})
	}
	merged = append(merged, remote...)

	c.JSON(http.StatusOK, gin.H{"success": true, "surveys": merged, "pendingCount": len(locals)})
}

// DashboardStats proxies the aggregate view; there is no meaningful local
// fallback for fleet-wide numbers.
func (h *SurveyHandler) DashboardStats(c *gin.Context) {
	session, ok := middleware.SessionFromContext(c)
	if !ok || !session.Confirmed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Dashboard requires a synced session"})
		return
	}
	if !h.Net.IsOnline() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Dashboard requires an internet connection"})
		return
	}

	stats, err := h.API.DashboardStats(c.Request.Context(), session.Token)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Dashboard unavailable"})
		return
	}
	c.Data(http.StatusOK, "application/json", stats)
}
