package kafka

import (
	"context"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"

	"aeron/internal/logbuffer"
)

type fakeSource struct {
	frames [][]byte
	cancel context.CancelFunc
}

func (s *fakeSource) Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int {
	if len(s.frames) == 0 {
		s.cancel()
		return 0
	}
	n := 0
	for n < fragmentLimit && len(s.frames) > 0 {
		frame := s.frames[0]
		s.frames = s.frames[1:]
		handler(frame, 7, 1001)
		n++
	}
	return n
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Topic: "t"}).Validate(); err == nil {
		t.Fatal("missing brokers accepted")
	}
	if err := (Config{Brokers: []string{"b"}}).Validate(); err == nil {
		t.Fatal("missing topic accepted")
	}
	if err := (Config{Brokers: []string{"b"}, Topic: "t"}).Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestRunForwardsFragments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{frames: [][]byte{[]byte("a"), []byte("b"), []byte("c")}, cancel: cancel}

	var produced []*kgo.Record
	b := &Bridge{cfg: Config{Topic: "events", FragmentLimit: 2}}
	b.produce = func(_ context.Context, record *kgo.Record) error {
		produced = append(produced, record)
		return nil
	}

	if err := b.Run(ctx, source, func(int) {}); err != context.Canceled {
		t.Fatalf("run: %v", err)
	}

	if len(produced) != 3 {
		t.Fatalf("produced %d records", len(produced))
	}
	if string(produced[0].Value) != "a" || string(produced[0].Key) != "1001" {
		t.Fatalf("record=%+v", produced[0])
	}
	if len(produced[0].Headers) != 1 || string(produced[0].Headers[0].Value) != "7" {
		t.Fatalf("headers=%+v", produced[0].Headers)
	}
}
