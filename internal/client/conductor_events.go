package client

import (
	"fmt"
	"weak"

	"aeron/internal/command"
	"aeron/internal/counters"
	"aeron/internal/logbuffer"
)

// onDriverEvent dispatches one broadcast record. Decode failures go to the
// error handler; the conductor keeps running.
func (c *Conductor) onDriverEvent(msgTypeID int32, data []byte) {
	switch msgTypeID {
	case command.OnPublicationReadyTypeID:
		msg, err := command.DecodePublicationReady(data)
		if err != nil {
			c.errorHandler(fmt.Errorf("publication ready: %w", err))
			return
		}
		c.onNewPublicationResponse(&c.publications, msg, c.onNewPublication)

	case command.OnExclusivePublicationReadyTypeID:
		msg, err := command.DecodePublicationReady(data)
		if err != nil {
			c.errorHandler(fmt.Errorf("exclusive publication ready: %w", err))
			return
		}
		c.onNewPublicationResponse(&c.exclusivePublications, msg, c.onNewExclusivePublication)

	case command.OnOperationSuccessTypeID:
		msg, err := command.DecodeOperationSuccess(data)
		if err != nil {
			c.errorHandler(fmt.Errorf("operation success: %w", err))
			return
		}
		c.onOperationSuccess(msg.CorrelationID)

	case command.OnErrorTypeID:
		msg, err := command.DecodeErrorResponse(data)
		if err != nil {
			c.errorHandler(fmt.Errorf("error response: %w", err))
			return
		}
		c.onErrorResponse(msg.OffendingCorrelationID, msg.ErrorCode, msg.Message)

	case command.OnAvailableImageTypeID:
		msg, err := command.DecodeImageReady(data)
		if err != nil {
			c.errorHandler(fmt.Errorf("image ready: %w", err))
			return
		}
		c.onAvailableImage(msg)

	case command.OnUnavailableImageTypeID:
		msg, err := command.DecodeImageUnavailable(data)
		if err != nil {
			c.errorHandler(fmt.Errorf("image unavailable: %w", err))
			return
		}
		c.onUnavailableImage(msg.StreamID, msg.CorrelationID)
	}
}

func (c *Conductor) onNewPublicationResponse(
	list *[]*publicationState,
	msg command.PublicationReady,
	handler NewPublicationHandler,
) {
	var callbacks []func()

	c.mu.Lock()
	for _, state := range *list {
		if state.registrationID != msg.CorrelationID {
			continue
		}
		buffers, err := logbuffer.Map(msg.LogFile)
		if err != nil {
			mapErr := fmt.Errorf("map log %s: %w", msg.LogFile, err)
			callbacks = append(callbacks, func() { c.errorHandler(mapErr) })
			break
		}
		state.originalRegistrationID = msg.OriginalRegistrationID
		state.sessionID = msg.SessionID
		state.posLimitCounterID = msg.PositionLimitCounterID
		state.buffers = buffers
		state.status = registeredWithDriver

		if handler != nil {
			channel, streamID, sessionID, registrationID :=
				state.channel, state.streamID, state.sessionID, state.registrationID
			callbacks = append(callbacks, func() {
				handler(channel, streamID, sessionID, registrationID)
			})
		}
		break
	}
	c.mu.Unlock()

	runAll(callbacks)
}

// onOperationSuccess registers a subscription. The strong handle is built
// here and cached so the first FindSubscription returns exactly this
// instance whether it runs before or after this event.
func (c *Conductor) onOperationSuccess(correlationID int64) {
	var callbacks []func()

	c.mu.Lock()
	for _, state := range c.subscriptions {
		if state.registrationID != correlationID || state.status != awaitingDriver {
			continue
		}
		state.status = registeredWithDriver
		sub := newSubscription(c, state.registrationID, state.channel, state.streamID)
		state.cache = sub
		state.handle = weak.Make(sub)

		if c.onNewSubscription != nil {
			channel, streamID := state.channel, state.streamID
			callbacks = append(callbacks, func() {
				c.onNewSubscription(channel, streamID, correlationID)
			})
		}
		break
	}
	c.mu.Unlock()

	runAll(callbacks)
}

// onErrorResponse marks the offending registration errored; the next Find
// call surfaces the diagnostics and discards the record.
func (c *Conductor) onErrorResponse(correlationID int64, errorCode int32, errorMessage string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.subscriptions {
		if state.registrationID == correlationID {
			state.status = erroredByDriver
			state.errorCode = errorCode
			state.errorMessage = errorMessage
			return
		}
	}
	for _, list := range [][]*publicationState{c.publications, c.exclusivePublications} {
		for _, state := range list {
			if state.registrationID == correlationID {
				state.status = erroredByDriver
				state.errorCode = errorCode
				state.errorMessage = errorMessage
				return
			}
		}
	}
}

func (c *Conductor) onAvailableImage(msg command.ImageReady) {
	var callbacks []func()

	c.mu.Lock()
	now := c.epochClock()
	for _, state := range c.subscriptions {
		if state.streamID != msg.StreamID || state.registrationID != msg.SubscriberRegistrationID {
			continue
		}
		sub := state.cache
		if sub == nil {
			sub = state.handle.Value()
		}
		if sub == nil || sub.HasImage(msg.CorrelationID) {
			continue
		}

		buffers, err := logbuffer.Map(msg.LogFile)
		if err != nil {
			mapErr := fmt.Errorf("map log %s: %w", msg.LogFile, err)
			callbacks = append(callbacks, func() { c.errorHandler(mapErr) })
			continue
		}
		image := newImage(
			msg.SessionID,
			msg.CorrelationID,
			state.registrationID,
			msg.SourceIdentity,
			counters.NewPosition(c.counterValues, msg.SubscriberPositionID),
			buffers)

		oldArray := sub.addImage(image)
		c.lingeringImageArrays = append(c.lingeringImageArrays,
			imageArrayLinger{placedAt: now, array: oldArray})

		if handler := state.onAvailableImage; handler != nil {
			callbacks = append(callbacks, func() { handler(image) })
		}
	}
	c.mu.Unlock()

	runAll(callbacks)
}

func (c *Conductor) onUnavailableImage(streamID int32, correlationID int64) {
	var callbacks []func()

	c.mu.Lock()
	now := c.epochClock()
	for _, state := range c.subscriptions {
		if state.streamID != streamID {
			continue
		}
		sub := state.cache
		if sub == nil {
			sub = state.handle.Value()
		}
		if sub == nil {
			continue
		}

		image, oldArray := sub.removeImage(correlationID)
		if image == nil {
			continue
		}
		c.lingeringLogBuffers = append(c.lingeringLogBuffers,
			logBuffersLinger{placedAt: now, buffers: image.logBuffers()})
		c.lingeringImageArrays = append(c.lingeringImageArrays,
			imageArrayLinger{placedAt: now, array: oldArray})

		if handler := state.onUnavailableImage; handler != nil {
			img := image
			callbacks = append(callbacks, func() { handler(img) })
		}
	}
	c.mu.Unlock()

	runAll(callbacks)
}

// onHeartbeatCheckTimeouts runs the periodic work: keepalives, driver
// liveness, linger sweeping.
func (c *Conductor) onHeartbeatCheckTimeouts(now int64) int {
	if now <= c.timeOfLastKeepalive+c.keepaliveIntervalMs {
		return 0
	}
	c.timeOfLastKeepalive = now

	if err := c.proxy.ClientKeepalive(); err != nil {
		c.errorHandler(err)
	}

	if now > c.proxy.ConsumerHeartbeatTime()+c.interServiceTimeoutMs {
		c.onInterServiceTimeout(now)
		return 1
	}

	c.mu.Lock()
	closeErrs := c.onCheckManagedResources(now)
	c.mu.Unlock()

	for _, err := range closeErrs {
		c.errorHandler(err)
	}
	return 1
}

// onInterServiceTimeout is terminal: every handle is closed, every resource
// lingered, all tables cleared. Subsequent synchronous operations fail with
// ErrConductorTerminated.
func (c *Conductor) onInterServiceTimeout(now int64) {
	var callbacks []func()

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true

	for _, list := range [][]*publicationState{c.publications, c.exclusivePublications} {
		for _, state := range list {
			if pub := state.handle.Value(); pub != nil {
				pub.markClosed()
			}
			if state.buffers != nil {
				c.lingeringLogBuffers = append(c.lingeringLogBuffers,
					logBuffersLinger{placedAt: now, buffers: state.buffers})
			}
		}
	}

	for _, state := range c.subscriptions {
		sub := state.cache
		if sub == nil {
			sub = state.handle.Value()
		}
		if sub == nil {
			continue
		}
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
	}

	c.publications = nil
	c.exclusivePublications = nil
	c.subscriptions = nil
	c.mu.Unlock()

	runAll(callbacks)
	c.errorHandler(fmt.Errorf("%w: driver inactive for %d ms", ErrConductorTerminated, c.interServiceTimeoutMs))
}

// onCheckManagedResources sweeps the linger lists. Called with the lock
// held; close failures are returned for reporting outside it. An entry
// survives at least resourceLingerTimeoutMs past placement.
func (c *Conductor) onCheckManagedResources(now int64) []error {
	var errs []error

	kept := c.lingeringLogBuffers[:0]
	for _, entry := range c.lingeringLogBuffers {
		if now > entry.placedAt+c.resourceLingerTimeoutMs {
			if err := entry.buffers.Close(); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		kept = append(kept, entry)
	}
	c.lingeringLogBuffers = kept

	keptArrays := c.lingeringImageArrays[:0]
	for _, entry := range c.lingeringImageArrays {
		if now > entry.placedAt+c.resourceLingerTimeoutMs {
			continue
		}
		keptArrays = append(keptArrays, entry)
	}
	c.lingeringImageArrays = keptArrays

	return errs
}
