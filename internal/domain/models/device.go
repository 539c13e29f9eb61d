package models

import "time"

const (
	StateOn  = "on"
	StateOff = "off"
)

type DeviceState struct {
	DeviceID  string    `json:"device_id" db:"device_id"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SetDeviceState struct {
	Value string `json:"value" validate:"required,oneof=on off"`
}
