// Package driver owns the media driver side of the CnC file: configuration,
// file creation and the command-servicing loop that answers clients.
package driver

import (
	"fmt"
	"math"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"aeron/internal/broadcast"
	"aeron/internal/cnc"
	"aeron/internal/ringbuffer"
)

// ThreadingMode selects how the driver schedules its agents.
type ThreadingMode int

const (
	ThreadingModeDedicated ThreadingMode = iota
	ThreadingModeSharedNetwork
	ThreadingModeShared
)

// Defaults, overridable through the AERON_* environment.
const (
	DefaultDriverTimeoutMs            = 10_000
	defaultBufferLength               = 1024 * 1024
	defaultClientLivenessTimeoutNs    = 5 * int64(time.Second)
	defaultPublicationLingerTimeoutNs = 5 * int64(time.Second)
	defaultTermBufferLength           = 16 * 1024 * 1024
	defaultIPCTermBufferLength        = 64 * 1024 * 1024
	defaultMTULength                  = 4096
	defaultSocketRcvbufLength         = 128 * 1024
	defaultSendToStatusPollRatio      = 4
	defaultStatusMessageTimeoutNs     = 200 * int64(time.Millisecond)

	// MTU bounds: at least a data header, at most the largest UDP payload.
	dataHeaderLength    = 32
	maxUDPPayloadLength = 65504

	maxIPCPublicationWindowLength = 16 * 1024 * 1024
)

// Environment variable names recognized by NewContext.
const (
	DirEnvVar                            = "AERON_DIR"
	ThreadingModeEnvVar                  = "AERON_THREADING_MODE"
	DirDeleteOnStartEnvVar               = "AERON_DIR_DELETE_ON_START"
	TermBufferSparseFileEnvVar           = "AERON_TERM_BUFFER_SPARSE_FILE"
	ToConductorBufferLengthEnvVar        = "AERON_TO_CONDUCTOR_BUFFER_LENGTH"
	ToClientsBufferLengthEnvVar          = "AERON_TO_CLIENTS_BUFFER_LENGTH"
	CountersValuesBufferLengthEnvVar     = "AERON_COUNTERS_VALUES_BUFFER_LENGTH"
	ErrorBufferLengthEnvVar              = "AERON_ERROR_BUFFER_LENGTH"
	ClientLivenessTimeoutEnvVar          = "AERON_CLIENT_LIVENESS_TIMEOUT"
	PublicationLingerTimeoutEnvVar       = "AERON_PUBLICATION_LINGER_TIMEOUT"
	TermBufferLengthEnvVar               = "AERON_TERM_BUFFER_LENGTH"
	IPCTermBufferLengthEnvVar            = "AERON_IPC_TERM_BUFFER_LENGTH"
	MTULengthEnvVar                      = "AERON_MTU_LENGTH"
	IPCPublicationTermWindowLengthEnvVar = "AERON_IPC_PUBLICATION_TERM_WINDOW_LENGTH"
	SocketSoRcvbufEnvVar                 = "AERON_SOCKET_SO_RCVBUF"
	SocketSoSndbufEnvVar                 = "AERON_SOCKET_SO_SNDBUF"
	SocketMulticastTTLEnvVar             = "AERON_SOCKET_MULTICAST_TTL"
	SendToStatusPollRatioEnvVar          = "AERON_SEND_TO_STATUS_POLL_RATIO"
	RcvStatusMessageTimeoutEnvVar        = "AERON_RCV_STATUS_MESSAGE_TIMEOUT"
)

// Context is the driver configuration. Populate it with NewContext; the
// fields are plain so tests can adjust them before Start.
type Context struct {
	AeronDir             string
	ThreadingMode        ThreadingMode
	DirDeleteOnStart     bool
	TermBufferSparseFile bool

	DriverTimeoutMs            int64
	ClientLivenessTimeoutNs    int64
	PublicationLingerTimeoutNs int64

	ToDriverBufferLength         int
	ToClientsBufferLength        int
	CountersValuesBufferLength   int
	CountersMetadataBufferLength int
	ErrorBufferLength            int
	TermBufferLength             int
	IPCTermBufferLength          int
	MTULength                    int
	IPCPublicationWindowLength   int

	SocketRcvbufLength     int
	SocketSndbufLength     int
	MulticastTTL           int
	SendToStatusPollRatio  int
	StatusMessageTimeoutNs int64

	EpochClock func() int64
}

func defaultAeronDir() string {
	username := "default"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			return "/dev/shm/aeron-" + username
		}
	}
	return filepath.Join(os.TempDir(), "aeron-"+username)
}

// parseBool accepts 1/on/true and 0/off/false; anything else keeps def.
func parseBool(value string, def bool) bool {
	switch strings.ToLower(value) {
	case "1", "on", "true":
		return true
	case "0", "off", "false":
		return false
	default:
		return def
	}
}

// parseUint parses with automatic base detection, falls back to def on
// failure and clamps to [min, max].
func parseUint(value string, def, min, max uint64) uint64 {
	result := def
	if value != "" {
		if parsed, err := strconv.ParseUint(value, 0, 64); err == nil {
			result = parsed
		}
	}
	if result > max {
		result = max
	}
	if result < min {
		result = min
	}
	return result
}

// NewContext builds a Context from defaults overridden by the environment.
func NewContext() (*Context, error) {
	v := viper.New()
	v.SetDefault("dir", defaultAeronDir())
	for key, env := range map[string]string{
		"dir":                                DirEnvVar,
		"threading.mode":                     ThreadingModeEnvVar,
		"dir.delete.on.start":                DirDeleteOnStartEnvVar,
		"term.buffer.sparse.file":            TermBufferSparseFileEnvVar,
		"conductor.buffer.length":            ToConductorBufferLengthEnvVar,
		"clients.buffer.length":              ToClientsBufferLengthEnvVar,
		"counters.buffer.length":             CountersValuesBufferLengthEnvVar,
		"error.buffer.length":                ErrorBufferLengthEnvVar,
		"client.liveness.timeout":            ClientLivenessTimeoutEnvVar,
		"publication.linger.timeout":         PublicationLingerTimeoutEnvVar,
		"term.buffer.length":                 TermBufferLengthEnvVar,
		"ipc.term.buffer.length":             IPCTermBufferLengthEnvVar,
		"mtu.length":                         MTULengthEnvVar,
		"ipc.publication.term.window.length": IPCPublicationTermWindowLengthEnvVar,
		"socket.so_rcvbuf":                   SocketSoRcvbufEnvVar,
		"socket.so_sndbuf":                   SocketSoSndbufEnvVar,
		"socket.multicast.ttl":               SocketMulticastTTLEnvVar,
		"send.to.status.poll.ratio":          SendToStatusPollRatioEnvVar,
		"rcv.status.message.timeout":         RcvStatusMessageTimeoutEnvVar,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	c := &Context{
		AeronDir:        v.GetString("dir"),
		ThreadingMode:   ThreadingModeDedicated,
		DriverTimeoutMs: DefaultDriverTimeoutMs,
		EpochClock:      func() int64 { return time.Now().UnixMilli() },
	}

	switch v.GetString("threading.mode") {
	case "SHARED":
		c.ThreadingMode = ThreadingModeShared
	case "SHARED_NETWORK":
		c.ThreadingMode = ThreadingModeSharedNetwork
	case "DEDICATED", "":
		c.ThreadingMode = ThreadingModeDedicated
	}

	c.DirDeleteOnStart = parseBool(v.GetString("dir.delete.on.start"), false)
	c.TermBufferSparseFile = parseBool(v.GetString("term.buffer.sparse.file"), false)

	c.ToDriverBufferLength = int(parseUint(
		v.GetString("conductor.buffer.length"),
		defaultBufferLength+ringbuffer.TrailerLength,
		1024+ringbuffer.TrailerLength, math.MaxInt32))
	c.ToClientsBufferLength = int(parseUint(
		v.GetString("clients.buffer.length"),
		defaultBufferLength+broadcast.TrailerLength,
		1024+broadcast.TrailerLength, math.MaxInt32))
	c.CountersValuesBufferLength = int(parseUint(
		v.GetString("counters.buffer.length"),
		defaultBufferLength, 1024, math.MaxInt32))
	c.CountersMetadataBufferLength = 2 * c.CountersValuesBufferLength
	c.ErrorBufferLength = int(parseUint(
		v.GetString("error.buffer.length"),
		defaultBufferLength, 1024, math.MaxInt32))

	c.ClientLivenessTimeoutNs = int64(parseUint(
		v.GetString("client.liveness.timeout"),
		uint64(defaultClientLivenessTimeoutNs), 1000, math.MaxInt64))
	c.PublicationLingerTimeoutNs = int64(parseUint(
		v.GetString("publication.linger.timeout"),
		uint64(defaultPublicationLingerTimeoutNs), 1000, math.MaxInt64))

	c.TermBufferLength = int(parseUint(
		v.GetString("term.buffer.length"),
		defaultTermBufferLength, 1024, math.MaxInt32))
	c.IPCTermBufferLength = int(parseUint(
		v.GetString("ipc.term.buffer.length"),
		defaultIPCTermBufferLength, 1024, math.MaxInt32))
	c.MTULength = int(parseUint(
		v.GetString("mtu.length"),
		defaultMTULength, dataHeaderLength, maxUDPPayloadLength))
	c.IPCPublicationWindowLength = int(parseUint(
		v.GetString("ipc.publication.term.window.length"),
		0, 0, math.MaxInt32))

	c.SocketRcvbufLength = int(parseUint(
		v.GetString("socket.so_rcvbuf"), defaultSocketRcvbufLength, 0, math.MaxInt32))
	c.SocketSndbufLength = int(parseUint(
		v.GetString("socket.so_sndbuf"), 0, 0, math.MaxInt32))
	c.MulticastTTL = int(parseUint(
		v.GetString("socket.multicast.ttl"), 0, 0, 255))
	c.SendToStatusPollRatio = int(parseUint(
		v.GetString("send.to.status.poll.ratio"), defaultSendToStatusPollRatio, 1, math.MaxInt32))
	c.StatusMessageTimeoutNs = int64(parseUint(
		v.GetString("rcv.status.message.timeout"),
		uint64(defaultStatusMessageTimeoutNs), 1000, math.MaxInt64))

	return c, nil
}

// CncMetadata derives the CnC header from the configured geometry.
func (c *Context) CncMetadata() cnc.Metadata {
	return cnc.Metadata{
		ToDriverBufferLength:        int32(c.ToDriverBufferLength),
		ToClientsBufferLength:       int32(c.ToClientsBufferLength),
		CounterMetadataBufferLength: int32(c.CountersMetadataBufferLength),
		CounterValuesBufferLength:   int32(c.CountersValuesBufferLength),
		ClientLivenessTimeoutNs:     c.ClientLivenessTimeoutNs,
		ErrorLogBufferLength:        int32(c.ErrorBufferLength),
	}
}

// CncFileLength is the total size of the CnC file for this configuration.
func (c *Context) CncFileLength() int {
	return cnc.ComputedLength(c.CncMetadata())
}

// IPCPublicationTermWindowLength returns the publication window for an IPC
// term. A configured window wins; zero falls back to half the term length,
// capped so a huge term cannot produce an unbounded window.
func (c *Context) IPCPublicationTermWindowLength(termLength int) int {
	window := c.IPCPublicationWindowLength
	if window == 0 {
		window = termLength / 2
	}
	if window > maxIPCPublicationWindowLength {
		window = maxIPCPublicationWindowLength
	}
	return window
}
