package client

import (
	"path/filepath"
	"testing"
	"time"

	"aeron/internal/broadcast"
	"aeron/internal/driver"
	"aeron/internal/logbuffer"
	"aeron/internal/ringbuffer"
)

// startDriver runs a real media driver over a temp directory and drives it
// from a background goroutine.
func startDriver(t *testing.T) *driver.Driver {
	t.Helper()

	ctx, err := driver.NewContext()
	if err != nil {
		t.Fatal(err)
	}
	ctx.AeronDir = filepath.Join(t.TempDir(), "aeron")
	ctx.ToDriverBufferLength = 64*1024 + ringbuffer.TrailerLength
	ctx.ToClientsBufferLength = 64*1024 + broadcast.TrailerLength
	ctx.CountersValuesBufferLength = 64 * 1024
	ctx.CountersMetadataBufferLength = 128 * 1024
	ctx.ErrorBufferLength = 64 * 1024
	ctx.IPCTermBufferLength = logbuffer.TermMinLength
	ctx.TermBufferSparseFile = true

	d, err := driver.Start(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				if d.DoWork() == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
		d.Close()
	})

	return d
}

func connectClient(t *testing.T, d *driver.Driver) *Aeron {
	t.Helper()

	ctx := NewContext()
	ctx.AeronDir = filepath.Dir(d.CncPath())
	a, err := Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func await[T any](t *testing.T, a *Aeron, what string, poll func() (T, bool)) T {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a.DoWork()
		if value, ok := poll(); ok {
			return value
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	panic("unreachable")
}

func TestPublishSubscribeEndToEnd(t *testing.T) {
	d := startDriver(t)
	a := connectClient(t, d)

	subID, err := a.AddSubscription("aeron:ipc", 1001, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sub := await(t, a, "subscription", func() (*Subscription, bool) {
		s, err := a.FindSubscription(subID)
		if err != nil {
			t.Fatal(err)
		}
		return s, s != nil
	})

	pubID, err := a.AddPublication("aeron:ipc", 1001)
	if err != nil {
		t.Fatal(err)
	}
	pub := await(t, a, "publication", func() (*Publication, bool) {
		p, err := a.FindPublication(pubID)
		if err != nil {
			t.Fatal(err)
		}
		return p, p != nil
	})

	await(t, a, "image", func() (struct{}, bool) {
		return struct{}{}, sub.ImageCount() == 1
	})

	if result := pub.Offer([]byte("end to end")); result < 0 {
		t.Fatalf("offer: %d", result)
	}

	var got []byte
	await(t, a, "fragment", func() (struct{}, bool) {
		sub.Poll(func(payload []byte, sessionID, streamID int32) {
			got = append([]byte(nil), payload...)
			if sessionID != pub.SessionID() || streamID != 1001 {
				t.Errorf("session=%d stream=%d", sessionID, streamID)
			}
		}, 10)
		return struct{}{}, got != nil
	})

	if string(got) != "end to end" {
		t.Fatalf("payload=%q", got)
	}
}

func TestTwoClientsShareOneStream(t *testing.T) {
	d := startDriver(t)
	publisher := connectClient(t, d)
	subscriber := connectClient(t, d)

	subID, err := subscriber.AddSubscription("aeron:ipc", 77, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sub := await(t, subscriber, "subscription", func() (*Subscription, bool) {
		s, err := subscriber.FindSubscription(subID)
		if err != nil {
			t.Fatal(err)
		}
		return s, s != nil
	})

	pubID, err := publisher.AddPublication("aeron:ipc", 77)
	if err != nil {
		t.Fatal(err)
	}
	pub := await(t, publisher, "publication", func() (*Publication, bool) {
		p, err := publisher.FindPublication(pubID)
		if err != nil {
			t.Fatal(err)
		}
		return p, p != nil
	})

	await(t, subscriber, "image", func() (struct{}, bool) {
		return struct{}{}, sub.ImageCount() == 1
	})

	for i := byte(0); i < 10; i++ {
		if result := pub.Offer([]byte{i}); result < 0 {
			t.Fatalf("offer %d: %d", i, result)
		}
	}

	var got []byte
	await(t, subscriber, "fragments", func() (struct{}, bool) {
		sub.Poll(func(payload []byte, _, _ int32) {
			got = append(got, payload...)
		}, 10)
		return struct{}{}, len(got) == 10
	})

	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("fragment %d carries %d", i, b)
		}
	}
}
