package protocol

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CreateSessionResponse answers POST /api/session. On failure Message still
// carries a canned greeting so the client can speak something.
type CreateSessionResponse struct {
	SessionID  string `json:"sessionId,omitempty"`
	Message    string `json:"message"`
	IsComplete bool   `json:"isComplete"`
	Error      string `json:"error,omitempty"`
}

type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse answers POST /api/session/{id}/message.
type MessageResponse struct {
	Message           string             `json:"message"`
	IsComplete        bool               `json:"isComplete"`
	Confidence        map[string]float64 `json:"confidence"`
	CoveredCategories []string           `json:"coveredCategories"`
	ClientName        string             `json:"clientName,omitempty"`
	DownloadURL       string             `json:"downloadUrl,omitempty"`
}

type TTSRequest struct {
	Text string `json:"text"`
}

// TTSResponse carries base64 audio, or Fallback=true when the client should
// synthesize on-device.
type TTSResponse struct {
	Audio       string `json:"audio,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// STTTokenResponse answers GET /api/deepgram-token.
type STTTokenResponse struct {
	Configured bool   `json:"configured"`
	Key        string `json:"key,omitempty"`
}

// IntakeSummary is one row of the admin listing.
type IntakeSummary struct {
	ID              int64              `json:"id"`
	SessionID       string             `json:"session_id"`
	ClientName      string             `json:"client_name"`
	TurnCount       int                `json:"turn_count"`
	Confidence      map[string]float64 `json:"confidence"`
	DurationMinutes *int64             `json:"duration_minutes"`
	CreatedAt       string             `json:"created_at"`
	CompletedAt     string             `json:"completed_at"`
}

type IntakeListResponse struct {
	Intakes []IntakeSummary `json:"intakes"`
}

// HostedWebhook is the payload posted by the hosted voice agent when a
// conversation ends.
type HostedWebhook struct {
	ConversationID string         `json:"conversation_id"`
	Transcript     []HostedTurn   `json:"transcript"`
	Analysis       HostedAnalysis `json:"analysis"`
	Metadata       HostedMetadata `json:"metadata"`
}

type HostedTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type HostedAnalysis struct {
	ClientName             string  `json:"client_name"`
	ConfidenceVision       float64 `json:"confidence_vision"`
	ConfidenceUsers        float64 `json:"confidence_users"`
	ConfidenceFeatures     float64 `json:"confidence_features"`
	ConfidenceJourney      float64 `json:"confidence_journey"`
	ConfidenceDesign       float64 `json:"confidence_design"`
	ConfidenceIntegrations float64 `json:"confidence_integrations"`
	ConfidenceScale        float64 `json:"confidence_scale"`
	ConfidenceConstraints  float64 `json:"confidence_constraints"`
}

// Confidence maps the flat analysis fields onto interview categories.
func (a HostedAnalysis) Confidence() map[string]float64 {
	return map[string]float64{
		"vision":        a.ConfidenceVision,
		"users_problem": a.ConfidenceUsers,
		"core_features": a.ConfidenceFeatures,
		"user_journey":  a.ConfidenceJourney,
		"look_feel":     a.ConfidenceDesign,
		"integrations":  a.ConfidenceIntegrations,
		"scale":         a.ConfidenceScale,
		"constraints":   a.ConfidenceConstraints,
	}
}

type HostedMetadata struct {
	TurnCount       int     `json:"turn_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
}
