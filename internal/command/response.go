package command

import (
	"encoding/binary"
	"fmt"
)

// PublicationReady tells a client its publication is registered. When the
// driver has coalesced this registration onto an existing log,
// OriginalRegistrationID names the first registration and differs from
// CorrelationID.
type PublicationReady struct {
	CorrelationID          int64
	OriginalRegistrationID int64
	SessionID              int32
	StreamID               int32
	PositionLimitCounterID int32
	LogFile                string
}

// Encode serializes the message.
func (m PublicationReady) Encode() []byte {
	b := make([]byte, 0, 28+4+len(m.LogFile))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.CorrelationID))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.OriginalRegistrationID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.SessionID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.StreamID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.PositionLimitCounterID))
	return appendString(b, m.LogFile)
}

// DecodePublicationReady parses an encoded PublicationReady.
func DecodePublicationReady(b []byte) (PublicationReady, error) {
	if len(b) < 28 {
		return PublicationReady{}, fmt.Errorf("publication ready too short: %d bytes", len(b))
	}
	logFile, _, err := readString(b, 28)
	if err != nil {
		return PublicationReady{}, err
	}
	return PublicationReady{
		CorrelationID:          int64(binary.LittleEndian.Uint64(b[0:])),
		OriginalRegistrationID: int64(binary.LittleEndian.Uint64(b[8:])),
		SessionID:              int32(binary.LittleEndian.Uint32(b[16:])),
		StreamID:               int32(binary.LittleEndian.Uint32(b[20:])),
		PositionLimitCounterID: int32(binary.LittleEndian.Uint32(b[24:])),
		LogFile:                logFile,
	}, nil
}

// OperationSuccess acknowledges a command that carries no payload back.
type OperationSuccess struct {
	CorrelationID int64
}

// Encode serializes the message.
func (m OperationSuccess) Encode() []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), uint64(m.CorrelationID))
}

// DecodeOperationSuccess parses an encoded OperationSuccess.
func DecodeOperationSuccess(b []byte) (OperationSuccess, error) {
	if len(b) < 8 {
		return OperationSuccess{}, fmt.Errorf("operation success too short: %d bytes", len(b))
	}
	return OperationSuccess{CorrelationID: int64(binary.LittleEndian.Uint64(b))}, nil
}

// ErrorResponse reports a failed command.
type ErrorResponse struct {
	OffendingCorrelationID int64
	ErrorCode              int32
	Message                string
}

// Encode serializes the message.
func (m ErrorResponse) Encode() []byte {
	b := make([]byte, 0, 12+4+len(m.Message))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.OffendingCorrelationID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.ErrorCode))
	return appendString(b, m.Message)
}

// DecodeErrorResponse parses an encoded ErrorResponse.
func DecodeErrorResponse(b []byte) (ErrorResponse, error) {
	if len(b) < 12 {
		return ErrorResponse{}, fmt.Errorf("error response too short: %d bytes", len(b))
	}
	message, _, err := readString(b, 12)
	if err != nil {
		return ErrorResponse{}, err
	}
	return ErrorResponse{
		OffendingCorrelationID: int64(binary.LittleEndian.Uint64(b[0:])),
		ErrorCode:              int32(binary.LittleEndian.Uint32(b[8:])),
		Message:                message,
	}, nil
}

// ImageReady announces a new per-session image to the subscription named by
// SubscriberRegistrationID.
type ImageReady struct {
	CorrelationID            int64
	SubscriberRegistrationID int64
	SessionID                int32
	StreamID                 int32
	SubscriberPositionID     int32
	LogFile                  string
	SourceIdentity           string
}

// Encode serializes the message.
func (m ImageReady) Encode() []byte {
	b := make([]byte, 0, 28+8+len(m.LogFile)+len(m.SourceIdentity))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.CorrelationID))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.SubscriberRegistrationID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.SessionID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.StreamID))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.SubscriberPositionID))
	b = appendString(b, m.LogFile)
	return appendString(b, m.SourceIdentity)
}

// DecodeImageReady parses an encoded ImageReady.
func DecodeImageReady(b []byte) (ImageReady, error) {
	if len(b) < 28 {
		return ImageReady{}, fmt.Errorf("image ready too short: %d bytes", len(b))
	}
	logFile, next, err := readString(b, 28)
	if err != nil {
		return ImageReady{}, err
	}
	sourceIdentity, _, err := readString(b, next)
	if err != nil {
		return ImageReady{}, err
	}
	return ImageReady{
		CorrelationID:            int64(binary.LittleEndian.Uint64(b[0:])),
		SubscriberRegistrationID: int64(binary.LittleEndian.Uint64(b[8:])),
		SessionID:                int32(binary.LittleEndian.Uint32(b[16:])),
		StreamID:                 int32(binary.LittleEndian.Uint32(b[20:])),
		SubscriberPositionID:     int32(binary.LittleEndian.Uint32(b[24:])),
		LogFile:                  logFile,
		SourceIdentity:           sourceIdentity,
	}, nil
}

// ImageUnavailable announces that a session's image has gone away.
type ImageUnavailable struct {
	CorrelationID int64
	StreamID      int32
}

// Encode serializes the message.
func (m ImageUnavailable) Encode() []byte {
	b := make([]byte, 0, 12)
	b = binary.LittleEndian.AppendUint64(b, uint64(m.CorrelationID))
	return binary.LittleEndian.AppendUint32(b, uint32(m.StreamID))
}

// DecodeImageUnavailable parses an encoded ImageUnavailable.
func DecodeImageUnavailable(b []byte) (ImageUnavailable, error) {
	if len(b) < 12 {
		return ImageUnavailable{}, fmt.Errorf("image unavailable too short: %d bytes", len(b))
	}
	return ImageUnavailable{
		CorrelationID: int64(binary.LittleEndian.Uint64(b[0:])),
		StreamID:      int32(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}
