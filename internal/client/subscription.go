package client

import (
	"sync/atomic"

	"aeron/internal/logbuffer"
)

// Subscription is the user-facing receiving end of a stream. The image set
// is an immutable slice swapped atomically, so Poll from an application
// goroutine never races with the conductor mutating membership.
type Subscription struct {
	conductor      *Conductor
	registrationID int64
	channel        string
	streamID       int32
	images         atomic.Pointer[[]*Image]
	closed         atomic.Bool
	roundRobin     int
}

func newSubscription(conductor *Conductor, registrationID int64, channel string, streamID int32) *Subscription {
	s := &Subscription{
		conductor:      conductor,
		registrationID: registrationID,
		channel:        channel,
		streamID:       streamID,
	}
	empty := []*Image{}
	s.images.Store(&empty)
	return s
}

// Channel returns the channel URI.
func (s *Subscription) Channel() string { return s.channel }

// StreamID returns the stream id within the channel.
func (s *Subscription) StreamID() int32 { return s.streamID }

// RegistrationID returns this subscription's registration.
func (s *Subscription) RegistrationID() int64 { return s.registrationID }

// Images returns the current image set. The slice is immutable.
func (s *Subscription) Images() []*Image { return *s.images.Load() }

// ImageCount returns how many publisher sessions currently feed this
// subscription.
func (s *Subscription) ImageCount() int { return len(*s.images.Load()) }

// HasImage reports whether an image with the given correlation id is held.
func (s *Subscription) HasImage(correlationID int64) bool {
	for _, image := range *s.images.Load() {
		if image.correlationID == correlationID {
			return true
		}
	}
	return false
}

// IsClosed reports whether Close has been called.
func (s *Subscription) IsClosed() bool { return s.closed.Load() }

// Poll delivers up to fragmentLimit fragments across the image set, rotating
// the starting image so one busy session cannot starve the others.
func (s *Subscription) Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int {
	images := *s.images.Load()
	if len(images) == 0 {
		return 0
	}

	start := s.roundRobin
	if start >= len(images) {
		start = 0
	}
	s.roundRobin = start + 1

	fragments := 0
	for i := 0; i < len(images) && fragments < fragmentLimit; i++ {
		image := images[(start+i)%len(images)]
		fragments += image.Poll(handler, fragmentLimit-fragments)
	}
	return fragments
}

// Close releases the registration with the driver, retiring every image
// through the unavailable-image handler.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conductor.releaseSubscription(s)
}

// addImage swaps in a new image set containing image and returns the
// replaced array for lingering.
func (s *Subscription) addImage(image *Image) []*Image {
	old := *s.images.Load()
	updated := make([]*Image, 0, len(old)+1)
	updated = append(updated, old...)
	updated = append(updated, image)
	s.images.Store(&updated)
	return old
}

// removeImage swaps out the image with the given correlation id, returning
// it and the replaced array, or nil when absent.
func (s *Subscription) removeImage(correlationID int64) (*Image, []*Image) {
	old := *s.images.Load()
	for i, image := range old {
		if image.correlationID != correlationID {
			continue
		}
		updated := make([]*Image, 0, len(old)-1)
		updated = append(updated, old[:i]...)
		updated = append(updated, old[i+1:]...)
		s.images.Store(&updated)
		return image, old
	}
	return nil, nil
}

// closeImages swaps in an empty set and returns the replaced array.
func (s *Subscription) closeImages() []*Image {
	old := *s.images.Load()
	empty := []*Image{}
	s.images.Store(&empty)
	return old
}
