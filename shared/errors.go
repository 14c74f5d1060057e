package shared

import "errors"

var (
	ErrNoLogger          = errors.New("no logger provided")
	ErrNoAPIKey          = errors.New("no API key provided")
	ErrNoDialer          = errors.New("no dialer provided")
	ErrNoDevices         = errors.New("no audio devices provided")
	ErrNotConnected      = errors.New("session not connected")
	ErrMicrophoneDenied  = errors.New("microphone access denied")
	ErrClosed            = errors.New("closed")
	ErrTokenUnavailable  = errors.New("ephemeral token unavailable")
	ErrEmptyToolCatalog  = errors.New("tool catalog endpoint not configured")
	ErrRequiredEnvNotSet = errors.New("required env variable not set")
)
