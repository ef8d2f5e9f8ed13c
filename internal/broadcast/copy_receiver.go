package broadcast

// Handler consumes one validated record copied out of the channel.
type Handler func(msgTypeID int32, data []byte)

// CopyReceiver wraps a Receiver and hands out stable copies, retrying
// records that were overwritten mid-read.
type CopyReceiver struct {
	receiver *Receiver
	scratch  []byte
}

// NewCopyReceiver wraps receiver.
func NewCopyReceiver(receiver *Receiver) *CopyReceiver {
	return &CopyReceiver{
		receiver: receiver,
		scratch:  make([]byte, receiver.capacity/8+HeaderLength),
	}
}

// Poll delivers up to limit records and returns how many were delivered.
func (c *CopyReceiver) Poll(handler Handler, limit int) int {
	received := 0

	for received < limit && c.receiver.ReceiveNext() {
		typeID := c.receiver.TypeID()
		data := c.receiver.Data()
		n := copy(c.scratch, data)
		if !c.receiver.Validate() {
			// Lapped mid-copy; the receiver has re-joined at the
			// latest record, try again from there.
			continue
		}
		handler(typeID, c.scratch[:n])
		received++
	}

	return received
}

// LappedCount returns how many times the underlying receiver was overrun.
func (c *CopyReceiver) LappedCount() int64 {
	return c.receiver.LappedCount()
}
