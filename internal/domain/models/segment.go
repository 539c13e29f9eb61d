package models

import "time"

type Segment struct {
	Name      string     `json:"name"`
	StartTime *time.Time `json:"start_time,omitempty"`
	Size      int64      `json:"size"`
	Still     bool       `json:"still"`
	Animated  bool       `json:"animated"`
}

type Recordings struct {
	DeviceID   string    `json:"device_id"`
	TotalBytes int64     `json:"total_bytes"`
	Segments   []Segment `json:"segments"`
}
