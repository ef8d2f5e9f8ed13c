// Package client is the embeddable side of the transport: it attaches to a
// running media driver through the CnC file and exposes publications and
// subscriptions to the application. All interaction with the driver funnels
// through the Conductor.
package client

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"aeron/internal/broadcast"
	"aeron/internal/cnc"
	"aeron/internal/memmap"
	"aeron/internal/ringbuffer"
)

// IdleStrategy is invoked between conductor duty cycles with the amount of
// work the last cycle performed.
type IdleStrategy func(workCount int)

// SleepingIdleStrategy sleeps for interval when a cycle was idle.
func SleepingIdleStrategy(interval time.Duration) IdleStrategy {
	return func(workCount int) {
		if workCount == 0 {
			time.Sleep(interval)
		}
	}
}

// Aeron is a client attached to one media driver.
type Aeron struct {
	ctx       *Context
	cncFile   *memmap.File
	conductor *Conductor
}

// Connect attaches to the driver's CnC file, waiting up to the driver
// timeout for the driver to create and initialize it.
func Connect(ctx *Context) (*Aeron, error) {
	cncPath := filepath.Join(ctx.AeronDir, cnc.File)
	deadline := ctx.EpochClock() + ctx.DriverTimeoutMs

	var file *memmap.File
	var meta cnc.Metadata
	for {
		var err error
		file, err = memmap.Map(cncPath)
		if err == nil {
			meta, err = cnc.ReadMetadata(file.Data)
			if err == nil {
				break
			}
			file.Close()
		}
		if ctx.EpochClock() > deadline {
			return nil, fmt.Errorf("%w: %v", DriverTimeoutError{TimeoutMs: ctx.DriverTimeoutMs}, err)
		}
		time.Sleep(16 * time.Millisecond)
	}

	layout := cnc.Layout{Meta: meta}
	ring, err := ringbuffer.New(layout.ToDriverBuffer(file.Data))
	if err != nil {
		file.Close()
		return nil, err
	}
	receiver, err := broadcast.NewReceiver(layout.ToClientsBuffer(file.Data))
	if err != nil {
		file.Close()
		return nil, err
	}

	proxy := NewDriverProxy(ring, time.Now().UnixNano())
	conductor := NewConductor(ctx, proxy, broadcast.NewCopyReceiver(receiver), layout.CounterValuesBuffer(file.Data))

	return &Aeron{ctx: ctx, cncFile: file, conductor: conductor}, nil
}

// Conductor returns the client conductor for direct use.
func (a *Aeron) Conductor() *Conductor { return a.conductor }

// AddPublication forwards to the conductor.
func (a *Aeron) AddPublication(channel string, streamID int32) (int64, error) {
	return a.conductor.AddPublication(channel, streamID)
}

// FindPublication forwards to the conductor.
func (a *Aeron) FindPublication(registrationID int64) (*Publication, error) {
	return a.conductor.FindPublication(registrationID)
}

// AddExclusivePublication forwards to the conductor.
func (a *Aeron) AddExclusivePublication(channel string, streamID int32) (int64, error) {
	return a.conductor.AddExclusivePublication(channel, streamID)
}

// FindExclusivePublication forwards to the conductor.
func (a *Aeron) FindExclusivePublication(registrationID int64) (*Publication, error) {
	return a.conductor.FindExclusivePublication(registrationID)
}

// AddSubscription forwards to the conductor.
func (a *Aeron) AddSubscription(
	channel string,
	streamID int32,
	onAvailableImage AvailableImageHandler,
	onUnavailableImage UnavailableImageHandler,
) (int64, error) {
	return a.conductor.AddSubscription(channel, streamID, onAvailableImage, onUnavailableImage)
}

// FindSubscription forwards to the conductor.
func (a *Aeron) FindSubscription(registrationID int64) (*Subscription, error) {
	return a.conductor.FindSubscription(registrationID)
}

// DoWork runs one conductor duty cycle.
func (a *Aeron) DoWork() int { return a.conductor.DoWork() }

// Run drives the conductor until ctx is cancelled, idling between cycles.
func (a *Aeron) Run(ctx context.Context, idle IdleStrategy) {
	for ctx.Err() == nil {
		idle(a.conductor.DoWork())
	}
}

// Close detaches from the driver. Lingering resources are released
// immediately; outstanding handles become unusable.
func (a *Aeron) Close() error {
	a.conductor.mu.Lock()
	for _, entry := range a.conductor.lingeringLogBuffers {
		entry.buffers.Close()
	}
	a.conductor.lingeringLogBuffers = nil
	a.conductor.lingeringImageArrays = nil
	a.conductor.terminated = true
	a.conductor.mu.Unlock()

	return a.cncFile.Close()
}
