package installer

import "errors"

var (
	// ErrNotBound is returned by StartHost before Bind has been called.
	ErrNotBound = errors.New("installer: manager not bound")

	// ErrHostRunning is returned when a host is started twice.
	ErrHostRunning = errors.New("installer: host already running")

	// ErrNoBinary is returned by a process installer without a host binary.
	ErrNoBinary = errors.New("installer: host binary not configured")
)
