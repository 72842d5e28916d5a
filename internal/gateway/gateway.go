// Package gateway is the offline-first operation gateway: the single policy
// point through which the UI authenticates and submits surveys. Callers
// always get a usable result whether or not the network is reachable; only
// malformed input and local storage faults are surfaced as errors.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/logger"
	"skysurvey-agent/internal/model"
	"skysurvey-agent/internal/store"
)

// RemoteAPI is the slice of the survey backend the gateway calls directly.
type RemoteAPI interface {
	Login(ctx context.Context, email, password string) (apiclient.LoginResponse, error)
	SubmitSurvey(ctx context.Context, token string, survey model.SurveyPayload, clientRef, deviceID string) (model.SubmissionRecord, error)
}

// Connectivity is the tracker query the gateway consults before going
// remote.
type Connectivity interface {
	IsOnline() bool
}

// DeviceIdentity supplies the stable per-install identifier tagged onto
// queued writes.
type DeviceIdentity interface {
	GetOrCreate() (string, error)
}

type Gateway struct {
	api     RemoteAPI
	store   *store.Store
	net     Connectivity
	devices DeviceIdentity
	now     func() time.Time
	log     *zap.SugaredLogger
}

type Options struct {
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

func New(api RemoteAPI, st *store.Store, net Connectivity, devices DeviceIdentity, opts Options) *Gateway {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("gateway")
	}
	return &Gateway{
		api:     api,
		store:   st,
		net:     net,
		devices: devices,
		now:     opts.Now,
		log:     opts.Logger,
	}
}

// AuthResult is what Authenticate hands back to the presentation layer.
type AuthResult struct {
	Session     model.Session `json:"data"`
	Online      bool          `json:"online"`
	PendingSync bool          `json:"pendingSync,omitempty"`
	Message     string        `json:"message"`
}

// SubmitResult is what SubmitSurvey hands back to the presentation layer.
type SubmitResult struct {
	Record  *model.SubmissionRecord `json:"data,omitempty"`
	Local   *model.LocalSubmission  `json:"local,omitempty"`
	Online  bool                    `json:"online"`
	Message string                  `json:"message"`
}

// Authenticate tries the remote login first and falls back to the local
// credential cache, or to a provisional session, when the server cannot be
// reached. It never fails for lack of connectivity.
func (g *Gateway) Authenticate(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return AuthResult{}, fmt.Errorf("%w: email and password are required", apiclient.ErrValidation)
	}

	if g.net.IsOnline() {
		resp, err := g.api.Login(ctx, email, password)
		if err == nil {
			session := model.Session{
				User:      resp.User,
				Token:     resp.Token,
				Confirmed: true,
				CreatedAt: g.now().UnixMilli(),
			}
			if err := g.store.SaveSession(session); err != nil {
				return AuthResult{}, err
			}
			// The cached password is what makes a later fully-offline
			// login possible.
			cred := model.Credential{Email: email, Password: password, User: resp.User}
			if err := g.store.UpsertCredential(cred); err != nil {
				return AuthResult{}, err
			}
			return AuthResult{Session: session, Online: true, Message: "Login successful"}, nil
		}
		// Transient or definitive, the remote outcome is not trusted here;
		// the offline path below decides, and the sync engine settles it.
		g.log.Infow("online login failed, trying offline", "email", email, "error", err)
	}

	return g.offlineLogin(ctx, email, password)
}

func (g *Gateway) offlineLogin(_ context.Context, email, password string) (AuthResult, error) {
	nowMilli := g.now().UnixMilli()

	cred, found, err := g.store.LookupCredential(email)
	if err != nil {
		return AuthResult{}, err
	}
	if found && cred.Password == password {
		user := cred.User
		user.OfflineMode = true
		session := model.Session{
			User:      user,
			Token:     fmt.Sprintf("%s%d_%s", model.TokenPrefixOffline, nowMilli, uuid.NewString()[:9]),
			Confirmed: false,
			CreatedAt: nowMilli,
		}
		if err := g.store.SaveSession(session); err != nil {
			return AuthResult{}, err
		}
		return AuthResult{Session: session, Online: false, Message: "Logged in offline mode"}, nil
	}

	// Unknown credential pair: the client cannot tell a wrong password from
	// an account this device has never seen, so it admits the user
	// provisionally and lets the replayed login be the source of truth.
	deviceID, err := g.devices.GetOrCreate()
	if err != nil {
		return AuthResult{}, err
	}
	payload, _ := json.Marshal(model.LoginPayload{Email: email, Password: password})
	if _, err := g.store.Enqueue(model.KindLogin, payload, deviceID); err != nil {
		return AuthResult{}, err
	}

	user := model.User{
		ID:          fmt.Sprintf("%s%d", model.TokenPrefixPending, nowMilli),
		Email:       email,
		Name:        email[:strings.Index(email+"@", "@")],
		Role:        "user",
		OfflineMode: true,
		PendingSync: true,
	}
	if !found {
		if err := g.store.UpsertCredential(model.Credential{Email: email, Password: password, User: user}); err != nil {
			return AuthResult{}, err
		}
	}

	session := model.Session{
		User:      user,
		Token:     fmt.Sprintf("%s%d", model.TokenPrefixPending, nowMilli),
		Confirmed: false,
		CreatedAt: nowMilli,
	}
	if err := g.store.SaveSession(session); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Session:     session,
		Online:      false,
		PendingSync: true,
		Message:     "Login stored for sync when online",
	}, nil
}

// SubmitSurvey submits directly when possible and otherwise queues the
// survey durably. A submission is never lost to a transient network blip.
func (g *Gateway) SubmitSurvey(ctx context.Context, payload model.SurveyPayload) (SubmitResult, error) {
	normalized := NormalizeSurvey(payload)
	if err := ValidateSurvey(normalized); err != nil {
		return SubmitResult{}, err
	}

	session, err := g.store.LoadSession()
	if err != nil {
		return SubmitResult{}, err
	}

	// Placeholder tokens are never presented to the server, so a direct
	// attempt is only made with a server-confirmed session.
	if g.net.IsOnline() && session != nil && session.Confirmed {
		record, err := g.api.SubmitSurvey(ctx, session.Token, normalized, "", "")
		if err == nil {
			return SubmitResult{Record: &record, Online: true, Message: "Survey submitted successfully"}, nil
		}
		g.log.Infow("online submission failed, saving offline", "error", err)
	}

	return g.offlineSubmit(normalized, session)
}

func (g *Gateway) offlineSubmit(survey model.SurveyPayload, session *model.Session) (SubmitResult, error) {
	nowMilli := g.now().UnixMilli()

	userID := "offline_user"
	if session != nil && session.User.ID != "" {
		userID = session.User.ID
	}
	deviceID, err := g.devices.GetOrCreate()
	if err != nil {
		return SubmitResult{}, err
	}

	queued := model.QueuedSurvey{
		SurveyPayload:    survey,
		UserID:           userID,
		DeviceID:         deviceID,
		CaptureTimestamp: nowMilli,
	}
	payload, _ := json.Marshal(queued)
	if _, err := g.store.Enqueue(model.KindSurvey, payload, deviceID); err != nil {
		return SubmitResult{}, err
	}

	local := model.LocalSubmission{
		LocalID:          fmt.Sprintf("local_%d", nowMilli),
		Survey:           survey,
		UserID:           userID,
		CaptureTimestamp: nowMilli,
		CreatedAt:        nowMilli,
		PendingSync:      true,
	}
	if err := g.store.AppendLocalSubmission(local); err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		Local:   &local,
		Online:  false,
		Message: "Survey saved offline. Will sync when online.",
	}, nil
}

// Logout clears the session, the queues and the credential cache; the
// device identity survives so re-registration blocking stays effective.
func (g *Gateway) Logout() error {
	return g.store.ClearAll()
}

func (g *Gateway) LocalSubmissions() ([]model.LocalSubmission, error) {
	return g.store.ListLocalSubmissions()
}

func (g *Gateway) CanLoginOffline(email string) (bool, error) {
	return g.store.CanLoginOffline(strings.TrimSpace(strings.ToLower(email)))
}

func (g *Gateway) PendingCount() (int, error) {
	return g.store.PendingCount()
}

// Session returns the current local session, nil when logged out.
func (g *Gateway) Session() (*model.Session, error) {
	return g.store.LoadSession()
}

// NormalizeSurvey reformats the travel date from the form's DD-MM-YYYY to
// the backend's YYYY-MM-DD and guarantees every rating question carries at
// least an explicit empty rating.
func NormalizeSurvey(s model.SurveyPayload) model.SurveyPayload {
	s.TravelDate = formatTravelDate(s.TravelDate)

	ratings := make(map[string]model.RatingEntry, len(model.RatingKeys))
	for _, key := range model.RatingKeys {
		ratings[key] = s.Ratings[key]
	}
	s.Ratings = ratings
	return s
}

func formatTravelDate(date string) string {
	parts := strings.Split(date, "-")
	if len(parts) == 3 && len(parts[0]) == 2 {
		return parts[2] + "-" + parts[1] + "-" + parts[0]
	}
	return date
}

// ValidateSurvey rejects a malformed payload before any queuing is
// attempted.
func ValidateSurvey(s model.SurveyPayload) error {
	required := map[string]string{
		"flightNumber":    s.FlightNumber,
		"travelDate":      s.TravelDate,
		"destination":     s.Destination,
		"travelReason":    s.TravelReason,
		"aircraftSection": s.AircraftSection,
		"returnTrips":     s.ReturnTrips,
		"airportCode":     s.AirportCode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", apiclient.ErrValidation, field)
		}
	}
	for key, entry := range s.Ratings {
		if entry.Rating == "" {
			continue
		}
		if !contains(model.Ratings, entry.Rating) {
			return fmt.Errorf("%w: invalid rating for %s", apiclient.ErrValidation, key)
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
