package client

import (
	"sync/atomic"

	"aeron/internal/counters"
	"aeron/internal/logbuffer"
)

// Offer results. Negative values report why the message was not accepted.
const (
	// PublicationBackPressured means the position limit has been reached;
	// retry after subscribers catch up.
	PublicationBackPressured int64 = -1

	// PublicationClosed means the handle is closed, either by Close or by
	// the conductor after an inter-service timeout.
	PublicationClosed int64 = -2

	// PublicationMaxPositionExceeded means the term is exhausted.
	PublicationMaxPositionExceeded int64 = -3
)

// Publication is the user-facing sending end of a stream. It holds the
// mapped log buffers and the position-limit counter; the conductor keeps
// only a weak reference, so dropping the handle needs no conductor action.
type Publication struct {
	conductor              *Conductor
	channel                string
	streamID               int32
	sessionID              int32
	registrationID         int64
	originalRegistrationID int64
	positionLimit          counters.Position
	log                    *logbuffer.LogBuffers
	appender               *logbuffer.Appender
	exclusive              bool
	closed                 atomic.Bool
}

func newPublication(
	conductor *Conductor,
	state *publicationState,
	positionLimit counters.Position,
) *Publication {
	return &Publication{
		conductor:              conductor,
		channel:                state.channel,
		streamID:               state.streamID,
		sessionID:              state.sessionID,
		registrationID:         state.registrationID,
		originalRegistrationID: state.originalRegistrationID,
		positionLimit:          positionLimit,
		log:                    state.buffers,
		appender:               logbuffer.NewAppender(state.buffers, state.sessionID, state.streamID),
		exclusive:              state.exclusive,
	}
}

// Channel returns the channel URI.
func (p *Publication) Channel() string { return p.channel }

// StreamID returns the stream id within the channel.
func (p *Publication) StreamID() int32 { return p.streamID }

// SessionID returns the session the driver assigned.
func (p *Publication) SessionID() int32 { return p.sessionID }

// RegistrationID returns this handle's registration.
func (p *Publication) RegistrationID() int64 { return p.registrationID }

// OriginalRegistrationID differs from RegistrationID when the driver
// coalesced this registration onto another client's log.
func (p *Publication) OriginalRegistrationID() int64 { return p.originalRegistrationID }

// Position returns the producer position of the stream.
func (p *Publication) Position() int64 { return p.appender.RawTail() }

// PositionLimit returns how far the driver currently allows this stream to
// advance.
func (p *Publication) PositionLimit() int64 { return p.positionLimit.Get() }

// IsClosed reports whether the handle is closed, either by Close or by the
// conductor after an inter-service timeout.
func (p *Publication) IsClosed() bool { return p.closed.Load() }

// Offer appends payload to the stream. It returns the resulting position or
// one of the negative results above.
func (p *Publication) Offer(payload []byte) int64 {
	if p.closed.Load() {
		return PublicationClosed
	}
	if p.appender.RawTail() >= p.positionLimit.Get() {
		return PublicationBackPressured
	}
	result := p.appender.Append(payload)
	if result == logbuffer.AppendFailed {
		return PublicationMaxPositionExceeded
	}
	return result
}

// Close releases the registration with the driver. The log buffers stay
// mapped until the conductor's linger interval has passed.
func (p *Publication) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.conductor.releasePublication(p.registrationID, p.exclusive)
}

func (p *Publication) markClosed() { p.closed.Store(true) }
