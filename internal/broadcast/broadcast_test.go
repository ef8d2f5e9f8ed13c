package broadcast

import (
	"encoding/binary"
	"errors"
	"testing"
)

func newPair(t *testing.T, capacity int) (*Transmitter, *Receiver) {
	t.Helper()
	buf := make([]byte, capacity+TrailerLength)
	tx, err := NewTransmitter(buf)
	if err != nil {
		t.Fatal(err)
	}
	rx, err := NewReceiver(buf)
	if err != nil {
		t.Fatal(err)
	}
	return tx, rx
}

func TestRejectsNonPowerOfTwoCapacity(t *testing.T) {
	if _, err := NewTransmitter(make([]byte, 1000+TrailerLength)); !errors.Is(err, ErrCapacityNotPowerOfTwo) {
		t.Fatalf("got %v", err)
	}
}

func TestTransmitReceiveInOrder(t *testing.T) {
	tx, rx := newPair(t, 1024)
	copyRx := NewCopyReceiver(rx)

	for i := 0; i < 5; i++ {
		var msg [4]byte
		binary.LittleEndian.PutUint32(msg[:], uint32(i))
		if err := tx.Transmit(int32(i+1), msg[:]); err != nil {
			t.Fatal(err)
		}
	}

	var got []uint32
	n := copyRx.Poll(func(msgTypeID int32, data []byte) {
		got = append(got, binary.LittleEndian.Uint32(data))
	}, 10)

	if n != 5 {
		t.Fatalf("received %d", n)
	}
	for i, v := range got {
		if v != uint32(i) {
			t.Fatalf("record %d = %d", i, v)
		}
	}
}

func TestWrapAroundDelivery(t *testing.T) {
	tx, rx := newPair(t, 256)
	copyRx := NewCopyReceiver(rx)

	payload := make([]byte, 24)
	total := 0
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint32(payload, uint32(i))
		if err := tx.Transmit(1, payload); err != nil {
			t.Fatal(err)
		}
		total += copyRx.Poll(func(msgTypeID int32, data []byte) {
			if got := binary.LittleEndian.Uint32(data); got != uint32(i) {
				t.Fatalf("iteration %d delivered %d", i, got)
			}
		}, 4)
	}

	if total != 100 {
		t.Fatalf("delivered %d", total)
	}
}

func TestSlowReceiverIsLapped(t *testing.T) {
	tx, rx := newPair(t, 256)
	copyRx := NewCopyReceiver(rx)

	payload := make([]byte, 24)
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint32(payload, uint32(i))
		if err := tx.Transmit(1, payload); err != nil {
			t.Fatal(err)
		}
	}

	var got []uint32
	copyRx.Poll(func(msgTypeID int32, data []byte) {
		got = append(got, binary.LittleEndian.Uint32(data))
	}, 1000)

	if copyRx.LappedCount() == 0 {
		t.Fatal("receiver was not lapped")
	}
	if len(got) == 0 {
		t.Fatal("no records after lap")
	}
	if last := got[len(got)-1]; last != 99 {
		t.Fatalf("last record %d", last)
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("records out of order after lap: %v", got)
		}
	}
}

func TestRejectsOversizeAndBadType(t *testing.T) {
	tx, _ := newPair(t, 256)

	if err := tx.Transmit(0, []byte("x")); !errors.Is(err, ErrInvalidMsgTypeID) {
		t.Fatalf("got %v", err)
	}
	if err := tx.Transmit(1, make([]byte, tx.MaxMessageLength()+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("got %v", err)
	}
}
