package client

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"aeron/internal/command"
	"aeron/internal/ringbuffer"
)

const commandRetryAttempts = 3

// DriverProxy writes commands into the to-driver ring buffer. Registration
// ids are issued locally and echoed back by the driver in its responses.
type DriverProxy struct {
	ring            *ringbuffer.ManyToOneRingBuffer
	clientID        int64
	nextCorrelation atomic.Int64
}

// NewDriverProxy wraps the ring. clientID must be unique among the driver's
// clients; the epoch-nanosecond connect time serves.
func NewDriverProxy(ring *ringbuffer.ManyToOneRingBuffer, clientID int64) *DriverProxy {
	p := &DriverProxy{ring: ring, clientID: clientID}
	p.nextCorrelation.Store(clientID)
	return p
}

// ClientID returns this client's identity.
func (p *DriverProxy) ClientID() int64 { return p.clientID }

// ConsumerHeartbeatTime returns the driver's last heartbeat, epoch ms.
func (p *DriverProxy) ConsumerHeartbeatTime() int64 {
	return p.ring.ConsumerHeartbeatTime()
}

func (p *DriverProxy) nextCorrelationID() int64 {
	return p.nextCorrelation.Add(1)
}

func (p *DriverProxy) write(msgTypeID int32, payload []byte, name string) error {
	for attempt := 0; attempt < commandRetryAttempts; attempt++ {
		ok, err := p.ring.Write(msgTypeID, payload)
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		if ok {
			return nil
		}
		runtime.Gosched()
	}
	return fmt.Errorf("%s: %w", name, ErrCommandQueueFull)
}

// AddPublication sends the command and returns its registration id.
func (p *DriverProxy) AddPublication(channel string, streamID int32) (int64, error) {
	correlationID := p.nextCorrelationID()
	msg := command.Publication{
		Correlated: command.Correlated{ClientID: p.clientID, CorrelationID: correlationID},
		StreamID:   streamID,
		Channel:    channel,
	}
	return correlationID, p.write(command.AddPublicationTypeID, msg.Encode(), "add publication")
}

// AddExclusivePublication sends the command and returns its registration id.
func (p *DriverProxy) AddExclusivePublication(channel string, streamID int32) (int64, error) {
	correlationID := p.nextCorrelationID()
	msg := command.Publication{
		Correlated: command.Correlated{ClientID: p.clientID, CorrelationID: correlationID},
		StreamID:   streamID,
		Channel:    channel,
	}
	return correlationID, p.write(command.AddExclusivePublicationTypeID, msg.Encode(), "add exclusive publication")
}

// RemovePublication sends the command.
func (p *DriverProxy) RemovePublication(registrationID int64) error {
	msg := command.Remove{
		Correlated:     command.Correlated{ClientID: p.clientID, CorrelationID: p.nextCorrelationID()},
		RegistrationID: registrationID,
	}
	return p.write(command.RemovePublicationTypeID, msg.Encode(), "remove publication")
}

// AddSubscription sends the command and returns its registration id.
func (p *DriverProxy) AddSubscription(channel string, streamID int32) (int64, error) {
	correlationID := p.nextCorrelationID()
	msg := command.Publication{
		Correlated: command.Correlated{ClientID: p.clientID, CorrelationID: correlationID},
		StreamID:   streamID,
		Channel:    channel,
	}
	return correlationID, p.write(command.AddSubscriptionTypeID, msg.Encode(), "add subscription")
}

// RemoveSubscription sends the command.
func (p *DriverProxy) RemoveSubscription(registrationID int64) error {
	msg := command.Remove{
		Correlated:     command.Correlated{ClientID: p.clientID, CorrelationID: p.nextCorrelationID()},
		RegistrationID: registrationID,
	}
	return p.write(command.RemoveSubscriptionTypeID, msg.Encode(), "remove subscription")
}

// AddDestination sends the command and returns its correlation id.
func (p *DriverProxy) AddDestination(registrationID int64, channel string) (int64, error) {
	correlationID := p.nextCorrelationID()
	msg := command.Destination{
		Correlated:     command.Correlated{ClientID: p.clientID, CorrelationID: correlationID},
		RegistrationID: registrationID,
		Channel:        channel,
	}
	return correlationID, p.write(command.AddDestinationTypeID, msg.Encode(), "add destination")
}

// RemoveDestination sends the command and returns its correlation id.
func (p *DriverProxy) RemoveDestination(registrationID int64, channel string) (int64, error) {
	correlationID := p.nextCorrelationID()
	msg := command.Destination{
		Correlated:     command.Correlated{ClientID: p.clientID, CorrelationID: correlationID},
		RegistrationID: registrationID,
		Channel:        channel,
	}
	return correlationID, p.write(command.RemoveDestinationTypeID, msg.Encode(), "remove destination")
}

// ClientKeepalive signals liveness to the driver.
func (p *DriverProxy) ClientKeepalive() error {
	msg := command.Correlated{ClientID: p.clientID, CorrelationID: 0}
	return p.write(command.ClientKeepaliveTypeID, command.EncodeCorrelated(msg), "client keepalive")
}
