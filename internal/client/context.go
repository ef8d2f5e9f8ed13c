package client

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"
)

// Handler types for driver events surfaced to the application. All handlers
// run on the conductor goroutine with the conductor lock released, so they
// may call back into the client.
type (
	NewPublicationHandler   func(channel string, streamID, sessionID int32, registrationID int64)
	NewSubscriptionHandler  func(channel string, streamID int32, registrationID int64)
	AvailableImageHandler   func(image *Image)
	UnavailableImageHandler func(image *Image)
	ErrorHandler            func(err error)
)

// Default intervals, overridable on the Context.
const (
	DefaultDriverTimeoutMs       = 10_000
	DefaultResourceLingerMs      = 5_000
	DefaultInterServiceTimeoutMs = 10_000
	DefaultKeepaliveIntervalMs   = 500
)

// Context configures a client before Connect.
type Context struct {
	AeronDir string

	DriverTimeoutMs         int64
	ResourceLingerTimeoutMs int64
	InterServiceTimeoutMs   int64
	KeepaliveIntervalMs     int64

	ErrorHandler              ErrorHandler
	OnNewPublication          NewPublicationHandler
	OnNewExclusivePublication NewPublicationHandler
	OnNewSubscription         NewSubscriptionHandler
	OnAvailableImage          AvailableImageHandler
	OnUnavailableImage        UnavailableImageHandler

	EpochClock func() int64
}

func defaultAeronDir() string {
	username := "default"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			return "/dev/shm/aeron-" + username
		}
	}
	return filepath.Join(os.TempDir(), "aeron-"+username)
}

// NewContext returns a Context with defaults filled in.
func NewContext() *Context {
	return &Context{
		AeronDir:                defaultAeronDir(),
		DriverTimeoutMs:         DefaultDriverTimeoutMs,
		ResourceLingerTimeoutMs: DefaultResourceLingerMs,
		InterServiceTimeoutMs:   DefaultInterServiceTimeoutMs,
		KeepaliveIntervalMs:     DefaultKeepaliveIntervalMs,
		EpochClock:              func() int64 { return time.Now().UnixMilli() },
	}
}
