package client

import (
	"sync"
	"weak"

	"aeron/internal/broadcast"
	"aeron/internal/counters"
	"aeron/internal/logbuffer"
)

type registrationStatus int

const (
	awaitingDriver registrationStatus = iota
	registeredWithDriver
	erroredByDriver
)

type publicationState struct {
	registrationID         int64
	originalRegistrationID int64
	channel                string
	streamID               int32
	sessionID              int32
	posLimitCounterID      int32
	timeOfRegistration     int64
	status                 registrationStatus
	errorCode              int32
	errorMessage           string
	buffers                *logbuffer.LogBuffers
	handle                 weak.Pointer[Publication]
	exclusive              bool
}

type subscriptionState struct {
	registrationID     int64
	channel            string
	streamID           int32
	timeOfRegistration int64
	status             registrationStatus
	errorCode          int32
	errorMessage       string
	onAvailableImage   AvailableImageHandler
	onUnavailableImage UnavailableImageHandler

	// cache holds the strong reference created on registration so the
	// first FindSubscription returns the exact instance the driver
	// acknowledged; it is cleared on that first retrieval.
	cache  *Subscription
	handle weak.Pointer[Subscription]
}

type logBuffersLinger struct {
	placedAt int64
	buffers  *logbuffer.LogBuffers
}

type imageArrayLinger struct {
	placedAt int64
	array    []*Image
}

// Conductor is the client-side state machine over publications, exclusive
// publications and subscriptions. One mutex serializes application calls and
// driver-event handling; user callbacks always run with the lock released,
// so they may re-enter the conductor.
//
// DoWork must be called from a single goroutine, typically driven by an idle
// strategy.
type Conductor struct {
	mu sync.Mutex

	proxy         *DriverProxy
	receiver      *broadcast.CopyReceiver
	counterValues []byte

	epochClock              func() int64
	driverTimeoutMs         int64
	resourceLingerTimeoutMs int64
	interServiceTimeoutMs   int64
	keepaliveIntervalMs     int64

	errorHandler              ErrorHandler
	onNewPublication          NewPublicationHandler
	onNewExclusivePublication NewPublicationHandler
	onNewSubscription         NewSubscriptionHandler

	publications          []*publicationState
	exclusivePublications []*publicationState
	subscriptions         []*subscriptionState

	lingeringLogBuffers  []logBuffersLinger
	lingeringImageArrays []imageArrayLinger

	timeOfLastKeepalive int64
	terminated          bool
}

// NewConductor wires a conductor over the attached CnC regions.
func NewConductor(ctx *Context, proxy *DriverProxy, receiver *broadcast.CopyReceiver, counterValues []byte) *Conductor {
	c := &Conductor{
		proxy:                     proxy,
		receiver:                  receiver,
		counterValues:             counterValues,
		epochClock:                ctx.EpochClock,
		driverTimeoutMs:           ctx.DriverTimeoutMs,
		resourceLingerTimeoutMs:   ctx.ResourceLingerTimeoutMs,
		interServiceTimeoutMs:     ctx.InterServiceTimeoutMs,
		keepaliveIntervalMs:       ctx.KeepaliveIntervalMs,
		errorHandler:              ctx.ErrorHandler,
		onNewPublication:          ctx.OnNewPublication,
		onNewExclusivePublication: ctx.OnNewExclusivePublication,
		onNewSubscription:         ctx.OnNewSubscription,
	}
	if c.errorHandler == nil {
		c.errorHandler = func(error) {}
	}
	return c
}

// DoWork polls driver events and runs the periodic checks. Returns an
// indication of how much work was done.
func (c *Conductor) DoWork() int {
	work := c.receiver.Poll(c.onDriverEvent, 10)
	work += c.onHeartbeatCheckTimeouts(c.epochClock())
	return work
}

func runAll(callbacks []func()) {
	for _, callback := range callbacks {
		callback()
	}
}

// verifyDriverIsActive throws on a stale driver heartbeat. Used on the add
// paths, where failure must reach the caller.
func (c *Conductor) verifyDriverIsActive() error {
	now := c.epochClock()
	if now > c.proxy.ConsumerHeartbeatTime()+c.driverTimeoutMs {
		return DriverTimeoutError{TimeoutMs: c.driverTimeoutMs}
	}
	return nil
}

// verifyDriverForRelease routes a liveness failure to the error handler
// instead, so application teardown always proceeds.
func (c *Conductor) verifyDriverForRelease() {
	if err := c.verifyDriverIsActive(); err != nil {
		c.errorHandler(err)
	}
}

// AddPublication registers (or re-finds) a publication for channel and
// stream, returning the registration id to poll with FindPublication.
func (c *Conductor) AddPublication(channel string, streamID int32) (int64, error) {
	if err := c.verifyDriverIsActive(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return 0, ErrConductorTerminated
	}

	for _, state := range c.publications {
		if state.channel == channel && state.streamID == streamID {
			return state.registrationID, nil
		}
	}

	registrationID, err := c.proxy.AddPublication(channel, streamID)
	if err != nil {
		return 0, err
	}
	c.publications = append(c.publications, &publicationState{
		registrationID:     registrationID,
		channel:            channel,
		streamID:           streamID,
		timeOfRegistration: c.epochClock(),
		status:             awaitingDriver,
	})
	return registrationID, nil
}

// AddExclusivePublication always registers a fresh publication with its own
// session, never deduplicating.
func (c *Conductor) AddExclusivePublication(channel string, streamID int32) (int64, error) {
	if err := c.verifyDriverIsActive(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return 0, ErrConductorTerminated
	}

	registrationID, err := c.proxy.AddExclusivePublication(channel, streamID)
	if err != nil {
		return 0, err
	}
	c.exclusivePublications = append(c.exclusivePublications, &publicationState{
		registrationID:     registrationID,
		channel:            channel,
		streamID:           streamID,
		timeOfRegistration: c.epochClock(),
		status:             awaitingDriver,
		exclusive:          true,
	})
	return registrationID, nil
}

// FindPublication resolves a registration id. It returns (nil, nil) while
// the driver has not yet responded; poll again.
func (c *Conductor) FindPublication(registrationID int64) (*Publication, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findPublicationLocked(&c.publications, registrationID)
}

// FindExclusivePublication is FindPublication for exclusive registrations.
func (c *Conductor) FindExclusivePublication(registrationID int64) (*Publication, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findPublicationLocked(&c.exclusivePublications, registrationID)
}

func (c *Conductor) findPublicationLocked(list *[]*publicationState, registrationID int64) (*Publication, error) {
	index := -1
	for i, state := range *list {
		if state.registrationID == registrationID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, nil
	}
	state := (*list)[index]

	if pub := state.handle.Value(); pub != nil {
		return pub, nil
	}

	switch state.status {
	case awaitingDriver:
		if c.epochClock() > state.timeOfRegistration+c.driverTimeoutMs {
			return nil, DriverTimeoutError{TimeoutMs: c.driverTimeoutMs}
		}
		return nil, nil

	case registeredWithDriver:
		pub := newPublication(c, state, counters.NewPosition(c.counterValues, state.posLimitCounterID))
		state.handle = weak.Make(pub)
		return pub, nil

	default:
		// Surfacing the error consumes the record.
		*list = append((*list)[:index], (*list)[index+1:]...)
		return nil, RegistrationError{Code: state.errorCode, Message: state.errorMessage}
	}
}

// releasePublication removes the record and tells the driver. Safe during
// driver shutdown: liveness failures go to the error handler only.
func (c *Conductor) releasePublication(registrationID int64, exclusive bool) error {
	c.verifyDriverForRelease()

	var proxyErr error

	c.mu.Lock()
	list := &c.publications
	if exclusive {
		list = &c.exclusivePublications
	}
	for i, state := range *list {
		if state.registrationID != registrationID {
			continue
		}
		proxyErr = c.proxy.RemovePublication(registrationID)
		if state.buffers != nil {
			c.lingeringLogBuffers = append(c.lingeringLogBuffers,
				logBuffersLinger{placedAt: c.epochClock(), buffers: state.buffers})
		}
		*list = append((*list)[:i], (*list)[i+1:]...)
		break
	}
	c.mu.Unlock()

	if proxyErr != nil {
		c.errorHandler(proxyErr)
	}
	return nil
}

// AddSubscription registers a subscription, capturing the image handlers it
// will use for its whole lifetime.
func (c *Conductor) AddSubscription(
	channel string,
	streamID int32,
	onAvailableImage AvailableImageHandler,
	onUnavailableImage UnavailableImageHandler,
) (int64, error) {
	if err := c.verifyDriverIsActive(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return 0, ErrConductorTerminated
	}

	registrationID, err := c.proxy.AddSubscription(channel, streamID)
	if err != nil {
		return 0, err
	}
	c.subscriptions = append(c.subscriptions, &subscriptionState{
		registrationID:     registrationID,
		channel:            channel,
		streamID:           streamID,
		timeOfRegistration: c.epochClock(),
		status:             awaitingDriver,
		onAvailableImage:   onAvailableImage,
		onUnavailableImage: onUnavailableImage,
	})
	return registrationID, nil
}

// FindSubscription resolves a registration id. The first successful lookup
// clears the conductor's strong cache; from then on the handle's lifetime
// belongs to the application alone.
func (c *Conductor) FindSubscription(registrationID int64) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := -1
	for i, state := range c.subscriptions {
		if state.registrationID == registrationID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, nil
	}
	state := c.subscriptions[index]

	if state.cache != nil {
		sub := state.cache
		state.cache = nil
		return sub, nil
	}
	if sub := state.handle.Value(); sub != nil {
		return sub, nil
	}

	switch state.status {
	case awaitingDriver:
		if c.epochClock() > state.timeOfRegistration+c.driverTimeoutMs {
			return nil, DriverTimeoutError{TimeoutMs: c.driverTimeoutMs}
		}
		return nil, nil

	case erroredByDriver:
		c.subscriptions = append(c.subscriptions[:index], c.subscriptions[index+1:]...)
		return nil, RegistrationError{Code: state.errorCode, Message: state.errorMessage}

	default:
		// Registered, but the application dropped its only handle.
		return nil, nil
	}
}

// releaseSubscription removes the record, retires every image and lingers
// their resources.
func (c *Conductor) releaseSubscription(sub *Subscription) error {
	c.verifyDriverForRelease()

	var callbacks []func()

	c.mu.Lock()
	for i, state := range c.subscriptions {
		if state.registrationID != sub.registrationID {
			continue
		}
		if err := c.proxy.RemoveSubscription(sub.registrationID); err != nil {
			callbacks = append(callbacks, func() { c.errorHandler(err) })
		}
		c.subscriptions = append(c.subscriptions[:i], c.subscriptions[i+1:]...)

		now := c.epochClock()
		images := sub.closeImages()
		for _, image := range images {
			image.close()
			c.lingeringLogBuffers = append(c.lingeringLogBuffers,
				logBuffersLinger{placedAt: now, buffers: image.logBuffers()})
			if handler := state.onUnavailableImage; handler != nil {
				img := image
				callbacks = append(callbacks, func() { handler(img) })
			}
		}
		c.lingeringImageArrays = append(c.lingeringImageArrays,
			imageArrayLinger{placedAt: now, array: images})
		break
	}
	c.mu.Unlock()

	runAll(callbacks)
	return nil
}

// AddDestination asks the driver to add a destination to an existing
// registration.
func (c *Conductor) AddDestination(registrationID int64, channel string) (int64, error) {
	if err := c.verifyDriverIsActive(); err != nil {
		return 0, err
	}
	return c.proxy.AddDestination(registrationID, channel)
}

// RemoveDestination asks the driver to remove a destination.
func (c *Conductor) RemoveDestination(registrationID int64, channel string) (int64, error) {
	if err := c.verifyDriverIsActive(); err != nil {
		return 0, err
	}
	return c.proxy.RemoveDestination(registrationID, channel)
}
