package errs

import "errors"

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrDeviceNotFound = errors.New("device not found")

	ErrInvalidSegmentName = errors.New("invalid segment name")
)
