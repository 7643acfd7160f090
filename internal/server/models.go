package server

import "time"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// UploadResponse reports the outcome of an export upload.
type UploadResponse struct {
	Inserted int64 `json:"inserted"`
	Embedded int64 `json:"embedded"`
}

// QueryRequest asks a question over the ingested history.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryMatch is one retrieved chunk.
type QueryMatch struct {
	Content      string     `json:"content"`
	Participants []string   `json:"participants"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Similarity   float64    `json:"similarity"`
}

// QueryResponse carries the model answer plus the chunks it saw.
type QueryResponse struct {
	Answer  string       `json:"answer"`
	Matches []QueryMatch `json:"matches"`
}

// CoverageResponse summarizes the ingested span for the caller.
type CoverageResponse struct {
	TotalChunks int64      `json:"total_chunks"`
	Earliest    *time.Time `json:"earliest,omitempty"`
	Latest      *time.Time `json:"latest,omitempty"`
}
