package client

import (
	"sync/atomic"

	"aeron/internal/counters"
	"aeron/internal/logbuffer"
)

// Image is a view onto one remote publisher session feeding a subscribed
// stream. Images are created and retired by the conductor; applications only
// poll them.
type Image struct {
	sessionID                  int32
	correlationID              int64
	subscriptionRegistrationID int64
	sourceIdentity             string
	position                   counters.Position
	log                        *logbuffer.LogBuffers
	closed                     atomic.Bool
}

func newImage(
	sessionID int32,
	correlationID int64,
	subscriptionRegistrationID int64,
	sourceIdentity string,
	position counters.Position,
	log *logbuffer.LogBuffers,
) *Image {
	return &Image{
		sessionID:                  sessionID,
		correlationID:              correlationID,
		subscriptionRegistrationID: subscriptionRegistrationID,
		sourceIdentity:             sourceIdentity,
		position:                   position,
		log:                        log,
	}
}

// SessionID returns the publisher session feeding this image.
func (i *Image) SessionID() int32 { return i.sessionID }

// CorrelationID identifies this image across driver events.
func (i *Image) CorrelationID() int64 { return i.correlationID }

// SubscriptionRegistrationID returns the owning subscription's registration.
func (i *Image) SubscriptionRegistrationID() int64 { return i.subscriptionRegistrationID }

// SourceIdentity describes where the publisher's data arrives from.
func (i *Image) SourceIdentity() string { return i.sourceIdentity }

// Position returns how far this subscriber has consumed the stream.
func (i *Image) Position() int64 { return i.position.Get() }

// Poll delivers up to fragmentLimit fragments to handler and advances the
// subscriber position past what was consumed.
func (i *Image) Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int {
	if i.closed.Load() {
		return 0
	}
	position := i.position.Get()
	newPosition, fragments := logbuffer.ReadTerm(i.log.Term(), position, handler, fragmentLimit)
	if newPosition != position {
		i.position.Set(newPosition)
	}
	return fragments
}

// IsClosed reports whether the conductor has retired this image.
func (i *Image) IsClosed() bool { return i.closed.Load() }

func (i *Image) close() { i.closed.Store(true) }

func (i *Image) logBuffers() *logbuffer.LogBuffers { return i.log }
