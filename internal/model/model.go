package model

import "time"

// OAuthToken is the bearer credential for the Google Workspace APIs.
// ExpiresAt always describes AccessToken; RefreshToken survives refreshes.
type OAuthToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	TokenType    string    `json:"tokenType,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// Remaining returns how long the access token stays usable.
func (t *OAuthToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// PKCEState is the transient state of one authorization round trip.
type PKCEState struct {
	CodeVerifier string    `json:"codeVerifier"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Settings holds the user supplied API credentials.
type Settings struct {
	GeminiKey          string `json:"geminiKey"`
	GoogleClientID     string `json:"googleClientId"`
	GoogleDeveloperKey string `json:"googleDeveloperKey"`
}

// RunLock guards a chart generation run.
type RunLock struct {
	Resource  string `json:"resource" dynamodbav:"resource"`
	Owner     string `json:"owner" dynamodbav:"owner"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// CalendarEvent is an entry of the primary calendar.
type CalendarEvent struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   EventTime `json:"start"`
	End     EventTime `json:"end"`
}

// EventTime carries either an all-day date or a date-time, as Google returns them.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// DriveFile is a file fetched from or written to Google Drive.
type DriveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  []byte `json:"-"`

	// ModifiedTime is RFC 3339, as Drive reports it.
	ModifiedTime string `json:"modifiedTime,omitempty"`
}

// Profile is the signed-in Google account.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
