package webhook

import "time"

// Envelope is the JSON body POSTed to a session's webhook.
type Envelope struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// timestampLayout is ISO-8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewEnvelope stamps an envelope with the dispatch time.
func NewEnvelope(event, sessionID string, data any) Envelope {
	return Envelope{
		Event:     event,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(timestampLayout),
	}
}

// DispatchMetrics tracks delivery to one webhook target.
type DispatchMetrics struct {
	Target              string  `json:"target"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	LastRequestAt       int64   `json:"lastRequestAt,omitempty"`
	LastError           string  `json:"lastError,omitempty"`
}

// RateLimitState tracks request times for one key.
type RateLimitState struct {
	Requests []int64 // unix millis
}
