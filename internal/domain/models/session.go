package models

import "time"

// Session is a running recorder process of one device.
type Session struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	StartTime time.Time `json:"start_time"`
	Pid       int       `json:"pid"`
	Pattern   string    `json:"pattern"`
}

type DeviceStatus struct {
	DeviceID  string   `json:"device_id"`
	Title     string   `json:"title"`
	Recording bool     `json:"recording"`
	Session   *Session `json:"session,omitempty"`
}
