package command

import "testing"

func TestPublicationRoundTrip(t *testing.T) {
	in := Publication{
		Correlated: Correlated{ClientID: 7, CorrelationID: 42},
		StreamID:   1001,
		Channel:    "aeron:udp?endpoint=127.0.0.1:40123",
	}
	out, err := DecodePublication(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v", out)
	}
}

func TestRemoveRoundTrip(t *testing.T) {
	in := Remove{Correlated: Correlated{ClientID: 1, CorrelationID: 2}, RegistrationID: 99}
	out, err := DecodeRemove(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v", out)
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	in := Destination{
		Correlated:     Correlated{ClientID: 3, CorrelationID: 4},
		RegistrationID: 55,
		Channel:        "aeron:udp?endpoint=10.0.0.1:4000",
	}
	out, err := DecodeDestination(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v", out)
	}
}

func TestPublicationReadyRoundTrip(t *testing.T) {
	in := PublicationReady{
		CorrelationID:          42,
		OriginalRegistrationID: 40,
		SessionID:              7,
		StreamID:               1001,
		PositionLimitCounterID: 3,
		LogFile:                "/dev/shm/aeron-user/publications/42.logbuffer",
	}
	out, err := DecodePublicationReady(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v", out)
	}
}

func TestImageReadyRoundTrip(t *testing.T) {
	in := ImageReady{
		CorrelationID:            99,
		SubscriberRegistrationID: 12,
		SessionID:                3,
		StreamID:                 2002,
		SubscriberPositionID:     5,
		LogFile:                  "/dev/shm/aeron-user/publications/12.logbuffer",
		SourceIdentity:           "aeron:ipc",
	}
	out, err := DecodeImageReady(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v", out)
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	in := ErrorResponse{OffendingCorrelationID: 42, ErrorCode: 1, Message: "channel unknown"}
	out, err := DecodeErrorResponse(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeRejectsTruncatedBuffers(t *testing.T) {
	encoded := Publication{
		Correlated: Correlated{ClientID: 1, CorrelationID: 2},
		StreamID:   3,
		Channel:    "aeron:ipc",
	}.Encode()

	for cut := 0; cut < len(encoded); cut++ {
		if _, err := DecodePublication(encoded[:cut]); err == nil {
			t.Fatalf("decode succeeded at %d of %d bytes", cut, len(encoded))
		}
	}

	if _, err := DecodeImageReady(make([]byte, 10)); err == nil {
		t.Fatal("image ready decode succeeded on short buffer")
	}
	if _, err := DecodeOperationSuccess(nil); err == nil {
		t.Fatal("operation success decode succeeded on empty buffer")
	}
}
