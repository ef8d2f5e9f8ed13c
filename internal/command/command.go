// Package command defines the binary messages exchanged between clients and
// the media driver: commands travel through the to-driver ring buffer,
// responses through the to-clients broadcast. All integers are little-endian.
// Decodes are length-checked and return errors; they never panic on foreign
// bytes.
package command

import (
	"encoding/binary"
	"fmt"
)

// Command message type ids (client to driver).
const (
	AddPublicationTypeID          int32 = 0x01
	RemovePublicationTypeID       int32 = 0x02
	AddExclusivePublicationTypeID int32 = 0x03
	AddSubscriptionTypeID         int32 = 0x04
	RemoveSubscriptionTypeID      int32 = 0x05
	ClientKeepaliveTypeID         int32 = 0x06
	AddDestinationTypeID          int32 = 0x07
	RemoveDestinationTypeID       int32 = 0x08
)

// Response message type ids (driver to clients).
const (
	OnErrorTypeID                     int32 = 0x0F01
	OnAvailableImageTypeID            int32 = 0x0F02
	OnPublicationReadyTypeID          int32 = 0x0F03
	OnOperationSuccessTypeID          int32 = 0x0F04
	OnUnavailableImageTypeID          int32 = 0x0F05
	OnExclusivePublicationReadyTypeID int32 = 0x0F06
)

// Driver error codes carried by OnError.
const (
	ErrorCodeGeneric             int32 = 0
	ErrorCodeInvalidChannel      int32 = 1
	ErrorCodeUnknownSubscription int32 = 2
	ErrorCodeUnknownPublication  int32 = 3
	ErrorCodeStorageSpace        int32 = 4
)

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func readString(b []byte, offset int) (string, int, error) {
	if offset+4 > len(b) {
		return "", 0, fmt.Errorf("truncated string length at offset %d", offset)
	}
	length := int(binary.LittleEndian.Uint32(b[offset:]))
	offset += 4
	if offset+length > len(b) {
		return "", 0, fmt.Errorf("truncated string of %d bytes at offset %d", length, offset)
	}
	return string(b[offset : offset+length]), offset + length, nil
}

// Correlated is the header common to every command.
type Correlated struct {
	ClientID      int64
	CorrelationID int64
}

const correlatedLength = 16

func (c Correlated) append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(c.ClientID))
	return binary.LittleEndian.AppendUint64(b, uint64(c.CorrelationID))
}

func decodeCorrelated(b []byte) (Correlated, error) {
	if len(b) < correlatedLength {
		return Correlated{}, fmt.Errorf("correlated header needs %d bytes, have %d", correlatedLength, len(b))
	}
	return Correlated{
		ClientID:      int64(binary.LittleEndian.Uint64(b[0:])),
		CorrelationID: int64(binary.LittleEndian.Uint64(b[8:])),
	}, nil
}

// Publication asks the driver to set up a publication or subscription on a
// channel and stream. Tear-down uses Remove.
type Publication struct {
	Correlated
	StreamID int32
	Channel  string
}

// Encode serializes the message.
func (m Publication) Encode() []byte {
	b := m.Correlated.append(make([]byte, 0, correlatedLength+8+len(m.Channel)))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.StreamID))
	return appendString(b, m.Channel)
}

// DecodePublication parses an encoded Publication.
func DecodePublication(b []byte) (Publication, error) {
	correlated, err := decodeCorrelated(b)
	if err != nil {
		return Publication{}, err
	}
	if len(b) < correlatedLength+4 {
		return Publication{}, fmt.Errorf("publication message too short: %d bytes", len(b))
	}
	streamID := int32(binary.LittleEndian.Uint32(b[correlatedLength:]))
	channel, _, err := readString(b, correlatedLength+4)
	if err != nil {
		return Publication{}, err
	}
	return Publication{Correlated: correlated, StreamID: streamID, Channel: channel}, nil
}

// Remove tears down a prior registration.
type Remove struct {
	Correlated
	RegistrationID int64
}

// Encode serializes the message.
func (m Remove) Encode() []byte {
	b := m.Correlated.append(make([]byte, 0, correlatedLength+8))
	return binary.LittleEndian.AppendUint64(b, uint64(m.RegistrationID))
}

// DecodeRemove parses an encoded Remove.
func DecodeRemove(b []byte) (Remove, error) {
	correlated, err := decodeCorrelated(b)
	if err != nil {
		return Remove{}, err
	}
	if len(b) < correlatedLength+8 {
		return Remove{}, fmt.Errorf("remove message too short: %d bytes", len(b))
	}
	return Remove{
		Correlated:     correlated,
		RegistrationID: int64(binary.LittleEndian.Uint64(b[correlatedLength:])),
	}, nil
}

// Destination adds or removes a destination on an existing registration.
type Destination struct {
	Correlated
	RegistrationID int64
	Channel        string
}

// Encode serializes the message.
func (m Destination) Encode() []byte {
	b := m.Correlated.append(make([]byte, 0, correlatedLength+12+len(m.Channel)))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.RegistrationID))
	return appendString(b, m.Channel)
}

// DecodeDestination parses an encoded Destination.
func DecodeDestination(b []byte) (Destination, error) {
	correlated, err := decodeCorrelated(b)
	if err != nil {
		return Destination{}, err
	}
	if len(b) < correlatedLength+8 {
		return Destination{}, fmt.Errorf("destination message too short: %d bytes", len(b))
	}
	registrationID := int64(binary.LittleEndian.Uint64(b[correlatedLength:]))
	channel, _, err := readString(b, correlatedLength+8)
	if err != nil {
		return Destination{}, err
	}
	return Destination{Correlated: correlated, RegistrationID: registrationID, Channel: channel}, nil
}

// EncodeCorrelated serializes a bare correlated header, used by keepalives.
func EncodeCorrelated(m Correlated) []byte {
	return m.append(make([]byte, 0, correlatedLength))
}

// DecodeCorrelated parses a bare correlated header.
func DecodeCorrelated(b []byte) (Correlated, error) {
	return decodeCorrelated(b)
}
