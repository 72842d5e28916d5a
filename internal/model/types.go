package model

import (
	"encoding/json"
	"strings"
)

// User mirrors the user record the survey backend returns, plus the two
// client-side flags the offline path sets on synthesized users.
type User struct {
	ID          string `json:"_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	OfflineMode bool   `json:"offlineMode,omitempty"`
	PendingSync bool   `json:"pendingSync,omitempty"`
}

const (
	TokenPrefixOffline = "offline_"
	TokenPrefixPending = "pending_"
)

// Session is the locally stored session. Confirmed is true only when the
// token was issued by the server; placeholder tokens carry the offline_ or
// pending_ prefix and must never be sent to a protected remote endpoint.
type Session struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	Confirmed bool   `json:"confirmed"`
	CreatedAt int64  `json:"createdAt"`
}

// Placeholder reports whether the session token is a locally generated
// stand-in rather than a server-issued bearer token.
func (s Session) Placeholder() bool {
	return IsPlaceholderToken(s.Token)
}

// IsPlaceholderToken reports whether a raw token string is a local
// placeholder.
func IsPlaceholderToken(token string) bool {
	return strings.HasPrefix(token, TokenPrefixOffline) || strings.HasPrefix(token, TokenPrefixPending)
}

// OperationKind is the queue partition a pending operation belongs to.
type OperationKind string

const (
	KindLogin  OperationKind = "login"
	KindSurvey OperationKind = "survey"
)

// PendingOperation is one not-yet-confirmed write, stored durably until the
// sync engine replays it or discards it.
type PendingOperation struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	DeviceID  string          `json:"deviceId"`
	CreatedAt int64           `json:"createdAt"`
	Synced    bool            `json:"synced"`
}

// LoginPayload is the replayable body of a queued login.
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Credential is one entry of the offline credential cache. The password is
// kept byte-for-byte so a later offline login can be checked without the
// server; a 401 on replay purges the entry.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	User     User   `json:"user"`
}

// Enums from the survey backend schema.
var (
	Ratings          = []string{"Excellent", "Very Good", "Good", "Fair", "Poor", "Did Not Notice/Use"}
	TravelReasons    = []string{"Business", "Leisure", "Other"}
	AircraftSections = []string{"First Class", "Business/Upper Class", "Economy", "Tourist"}
	ReturnTrips      = []string{"1-2", "3-5", "6-10", "11-20", "21+"}
)

// RatingKeys are the six fixed rating questions, in form order.
var RatingKeys = []string{
	"parkingFacility",
	"checkIn",
	"washroomCleanliness",
	"securityCheck",
	"fnbRetail",
	"boardingGate",
}

// RatingEntry is one answered (or explicitly unanswered) rating question.
type RatingEntry struct {
	Rating   string `json:"rating"`
	Comments string `json:"comments,omitempty"`
}

// SurveyPayload is the survey form as submitted to /survey/submit.
type SurveyPayload struct {
	FlightNumber       string                 `json:"flightNumber"`
	TravelDate         string                 `json:"travelDate"`
	Destination        string                 `json:"destination"`
	TravelReason       string                 `json:"travelReason"`
	AircraftSection    string                 `json:"aircraftSection"`
	ReturnTrips        string                 `json:"returnTrips"`
	Ratings            map[string]RatingEntry `json:"ratings"`
	AdditionalComments string                 `json:"additionalComments,omitempty"`
	AirportCode        string                 `json:"airportCode"`
}

// QueuedSurvey is the payload stored with a pending survey operation: the
// normalized form plus the metadata needed to replay it and to reconcile the
// local display cache afterwards.
type QueuedSurvey struct {
	SurveyPayload
	UserID           string `json:"userId"`
	DeviceID         string `json:"deviceId"`
	CaptureTimestamp int64  `json:"captureTimestamp"`
}

// LocalSubmission is the display-cache copy of a survey kept for history
// screens until the server-confirmed record supersedes it.
type LocalSubmission struct {
	LocalID          string        `json:"_id"`
	Survey           SurveyPayload `json:"survey"`
	UserID           string        `json:"userId"`
	CaptureTimestamp int64         `json:"captureTimestamp"`
	CreatedAt        int64         `json:"createdAt"`
	PendingSync      bool          `json:"pendingSync"`
}

// SubmissionRecord is a server-confirmed survey as returned by
// /survey/past-submissions.
type SubmissionRecord struct {
	ID                 string                 `json:"_id"`
	FlightNumber       string                 `json:"flightNumber"`
	TravelDate         string                 `json:"travelDate"`
	Destination        string                 `json:"destination"`
	TravelReason       string                 `json:"travelReason"`
	AircraftSection    string                 `json:"aircraftSection"`
	ReturnTrips        string                 `json:"returnTrips"`
	Ratings            map[string]RatingEntry `json:"ratings"`
	AdditionalComments string                 `json:"additionalComments,omitempty"`
	AirportCode        string                 `json:"airportCode"`
	SubmissionDate     string                 `json:"submissionDate"`
	PendingSync        bool                   `json:"pendingSync,omitempty"`
}

// SyncStatus is the snapshot exposed at /v1/sync/status.
type SyncStatus struct {
	PendingCount   int   `json:"pendingCount"`
	IsOnline       bool  `json:"isOnline"`
	SyncInProgress bool  `json:"syncInProgress"`
	LastSync       int64 `json:"lastSync,omitempty"`
}
