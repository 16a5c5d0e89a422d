// Package models defines the domain models for twilio-realtime-relay
package models

import (
	"time"
)

// CallStatus represents the state of a bridged call
type CallStatus string

const (
	CallStatusConnecting CallStatus = "connecting"
	CallStatusActive     CallStatus = "active"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// IncomingCall holds the Twilio voice webhook parameters we log. Twilio posts them
// form-encoded; all are optional.
type IncomingCall struct {
	CallSID    string `form:"CallSid" json:"call_sid,omitempty"`
	AccountSID string `form:"AccountSid" json:"account_sid,omitempty"`
	From       string `form:"From" json:"from,omitempty"`
	To         string `form:"To" json:"to,omitempty"`
	Direction  string `form:"Direction" json:"direction,omitempty"`
}

// ActiveCall is the presence record of one bridged call
type ActiveCall struct {
	SessionID string     `json:"session_id"`
	StreamSID string     `json:"stream_sid,omitempty"`
	CallSID   string     `json:"call_sid,omitempty"`
	Status    CallStatus `json:"status"`
	StartedAt time.Time  `json:"started_at"`
}

// Fields flattens the record into hash fields
func (c *ActiveCall) Fields() map[string]string {
	fields := map[string]string{
		"session_id": c.SessionID,
		"status":     string(c.Status),
		"started_at": c.StartedAt.UTC().Format(time.RFC3339),
	}
	if c.StreamSID != "" {
		fields["stream_sid"] = c.StreamSID
	}
	if c.CallSID != "" {
		fields["call_sid"] = c.CallSID
	}
	return fields
}

// HealthResponse is the body of GET /
type HealthResponse struct {
	Message string `json:"message" example:"Twilio Media Stream Server is running!"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	ActiveCalls int64  `json:"active_calls" example:"2"`
	Source      string `json:"source" example:"valkey"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error" example:"Failed to count active calls"`
	Details string `json:"details,omitempty"`
}
