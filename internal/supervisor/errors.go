package supervisor

import "errors"

// Failure kinds surfaced to callers. Operations wrap these sentinels so call
// sites can branch with errors.Is and translate them into user-facing
// responses.
var (
	ErrAlreadyRunning    = errors.New("server is already running")
	ErrNotRunning        = errors.New("server is not running")
	ErrSpawnFailed       = errors.New("failed to spawn server process")
	ErrCommandFailed     = errors.New("failed to send command")
	ErrInstallStepFailed = errors.New("install step failed")
	ErrCancelled         = errors.New("installation cancelled")
)
