package driver

import (
	"strings"
	"testing"

	"aeron/internal/broadcast"
	"aeron/internal/cnc"
	"aeron/internal/ringbuffer"
)

func TestContextDefaults(t *testing.T) {
	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(c.AeronDir, "aeron-") {
		t.Fatalf("dir=%q", c.AeronDir)
	}
	if c.ThreadingMode != ThreadingModeDedicated {
		t.Fatalf("threading mode=%d", c.ThreadingMode)
	}
	if c.ToDriverBufferLength != 1024*1024+ringbuffer.TrailerLength {
		t.Fatalf("to-driver length=%d", c.ToDriverBufferLength)
	}
	if c.ToClientsBufferLength != 1024*1024+broadcast.TrailerLength {
		t.Fatalf("to-clients length=%d", c.ToClientsBufferLength)
	}
	if c.CountersMetadataBufferLength != 2*c.CountersValuesBufferLength {
		t.Fatal("counters metadata is not twice values")
	}
	if c.ClientLivenessTimeoutNs != 5_000_000_000 {
		t.Fatalf("client liveness=%d", c.ClientLivenessTimeoutNs)
	}
	if c.TermBufferLength != 16*1024*1024 || c.IPCTermBufferLength != 64*1024*1024 {
		t.Fatalf("term=%d ipc term=%d", c.TermBufferLength, c.IPCTermBufferLength)
	}
	if c.MTULength != 4096 || c.SendToStatusPollRatio != 4 {
		t.Fatalf("mtu=%d poll ratio=%d", c.MTULength, c.SendToStatusPollRatio)
	}
}

func TestContextEnvOverrides(t *testing.T) {
	t.Setenv(DirEnvVar, "/tmp/aeron-test-dir")
	t.Setenv(ThreadingModeEnvVar, "SHARED")
	t.Setenv(DirDeleteOnStartEnvVar, "on")
	t.Setenv(TermBufferSparseFileEnvVar, "1")
	t.Setenv(CountersValuesBufferLengthEnvVar, "65536")
	t.Setenv(ClientLivenessTimeoutEnvVar, "7000000000")
	t.Setenv(MTULengthEnvVar, "8192")

	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}

	if c.AeronDir != "/tmp/aeron-test-dir" {
		t.Fatalf("dir=%q", c.AeronDir)
	}
	if c.ThreadingMode != ThreadingModeShared {
		t.Fatalf("threading mode=%d", c.ThreadingMode)
	}
	if !c.DirDeleteOnStart || !c.TermBufferSparseFile {
		t.Fatal("boolean overrides not applied")
	}
	if c.CountersValuesBufferLength != 65536 || c.CountersMetadataBufferLength != 131072 {
		t.Fatalf("counters=%d/%d", c.CountersValuesBufferLength, c.CountersMetadataBufferLength)
	}
	if c.ClientLivenessTimeoutNs != 7_000_000_000 {
		t.Fatalf("liveness=%d", c.ClientLivenessTimeoutNs)
	}
	if c.MTULength != 8192 {
		t.Fatalf("mtu=%d", c.MTULength)
	}
}

func TestContextParseFailureKeepsDefault(t *testing.T) {
	t.Setenv(ErrorBufferLengthEnvVar, "not-a-number")
	t.Setenv(DirDeleteOnStartEnvVar, "maybe")

	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}
	if c.ErrorBufferLength != 1024*1024 {
		t.Fatalf("error buffer=%d", c.ErrorBufferLength)
	}
	if c.DirDeleteOnStart {
		t.Fatal("bad boolean parsed as true")
	}
}

func TestContextClampsToMinimum(t *testing.T) {
	t.Setenv(CountersValuesBufferLengthEnvVar, "1")
	t.Setenv(MTULengthEnvVar, "1")

	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}
	if c.CountersValuesBufferLength != 1024 {
		t.Fatalf("counters=%d", c.CountersValuesBufferLength)
	}
	if c.MTULength != dataHeaderLength {
		t.Fatalf("mtu=%d", c.MTULength)
	}
}

func TestCncFileLength(t *testing.T) {
	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}

	want := cnc.MetadataLength +
		c.ToDriverBufferLength + c.ToClientsBufferLength +
		c.CountersMetadataBufferLength + c.CountersValuesBufferLength +
		c.ErrorBufferLength
	if got := c.CncFileLength(); got != want {
		t.Fatalf("cnc length=%d want %d", got, want)
	}
}

func TestIPCPublicationTermWindowLength(t *testing.T) {
	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}

	// Unset window falls back to half the term length.
	c.IPCPublicationWindowLength = 0
	if got := c.IPCPublicationTermWindowLength(1 << 20); got != 1<<19 {
		t.Fatalf("window=%d", got)
	}
	// A configured window is honoured.
	c.IPCPublicationWindowLength = 4096
	if got := c.IPCPublicationTermWindowLength(1 << 20); got != 4096 {
		t.Fatalf("window=%d", got)
	}
	// Either path is capped.
	c.IPCPublicationWindowLength = 0
	if got := c.IPCPublicationTermWindowLength(1 << 30); got != maxIPCPublicationWindowLength {
		t.Fatalf("window=%d", got)
	}
}

func TestParseBool(t *testing.T) {
	for _, tc := range []struct {
		value string
		def   bool
		want  bool
	}{
		{"1", false, true},
		{"on", false, true},
		{"true", false, true},
		{"0", true, false},
		{"off", true, false},
		{"false", true, false},
		{"", true, true},
		{"garbage", false, false},
	} {
		if got := parseBool(tc.value, tc.def); got != tc.want {
			t.Errorf("parseBool(%q, %t) = %t", tc.value, tc.def, got)
		}
	}
}

func TestParseUintAutoBase(t *testing.T) {
	if got := parseUint("0x1000", 0, 0, 1<<30); got != 4096 {
		t.Fatalf("hex parse=%d", got)
	}
	if got := parseUint("4096", 0, 0, 1<<30); got != 4096 {
		t.Fatalf("dec parse=%d", got)
	}
	if got := parseUint("nope", 7, 0, 1<<30); got != 7 {
		t.Fatalf("fallback=%d", got)
	}
	if got := parseUint("100", 0, 0, 50); got != 50 {
		t.Fatalf("clamp=%d", got)
	}
}
