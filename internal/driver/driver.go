package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"aeron/internal/broadcast"
	"aeron/internal/cnc"
	"aeron/internal/command"
	"aeron/internal/counters"
	"aeron/internal/errorlog"
	"aeron/internal/logbuffer"
	"aeron/internal/memmap"
	"aeron/internal/ringbuffer"
)

const (
	publicationsDirName = "publications"

	ipcSourceIdentity = "aeron:ipc"

	counterTypePublisherLimit     int32 = 1
	counterTypeSubscriberPosition int32 = 2
)

// Catalog records publication lifecycles for post-mortem inspection. The
// archive package provides the sqlite-backed implementation.
type Catalog interface {
	RecordPublication(registrationID int64, channel string, streamID, sessionID int32, logFile string, nowMs int64) error
	RecordPublicationClosed(registrationID int64, nowMs int64) error
}

type publication struct {
	registrationID    int64
	channel           string
	streamID          int32
	sessionID         int32
	posLimitCounterID int32
	logFile           string
	log               *logbuffer.LogBuffers
	exclusive         bool
	refCount          int
}

type subscription struct {
	registrationID int64
	clientID       int64
	channel        string
	streamID       int32
	positions      map[int64]int32 // publication registration id -> counter id
}

type registration struct {
	clientID int64
	pub      *publication
	sub      *subscription
}

// Driver is a minimal media driver servicing IPC clients over the CnC file.
// It consumes the to-driver ring, allocates log buffers and counters, and
// answers through the to-clients broadcast. Single-threaded: DoWork must be
// called from one goroutine.
type Driver struct {
	ctx     *Context
	cncFile *memmap.File

	toDriver  *ringbuffer.ManyToOneRingBuffer
	toClients *broadcast.Transmitter
	counters  *counters.Manager
	errors    *errorlog.DistinctErrorLog

	catalog Catalog

	registrations  map[int64]*registration
	publications   []*publication
	subscriptions  []*subscription
	clientLiveness map[int64]int64

	nextSessionID int32
}

// Start creates the driver directory and CnC file and readies the driver for
// DoWork. Failure to create the CnC file usually means another driver is
// active in the same directory.
func Start(ctx *Context, catalog Catalog) (*Driver, error) {
	if ctx.DirDeleteOnStart {
		if err := os.RemoveAll(ctx.AeronDir); err != nil {
			return nil, fmt.Errorf("delete aeron dir: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(ctx.AeronDir, publicationsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create aeron dir: %w", err)
	}

	cncPath := filepath.Join(ctx.AeronDir, cnc.File)
	file, err := memmap.Create(cncPath, ctx.CncFileLength(), ctx.TermBufferSparseFile)
	if err != nil {
		return nil, fmt.Errorf("create cnc file (is a driver already active?): %w", err)
	}

	meta := ctx.CncMetadata()
	cnc.WriteMetadata(file.Data, meta)
	layout := cnc.Layout{Meta: meta}

	toDriver, err := ringbuffer.New(layout.ToDriverBuffer(file.Data))
	if err != nil {
		file.Close()
		return nil, err
	}
	toClients, err := broadcast.NewTransmitter(layout.ToClientsBuffer(file.Data))
	if err != nil {
		file.Close()
		return nil, err
	}
	counterManager, err := counters.NewManager(
		layout.CounterMetadataBuffer(file.Data), layout.CounterValuesBuffer(file.Data))
	if err != nil {
		file.Close()
		return nil, err
	}

	d := &Driver{
		ctx:            ctx,
		cncFile:        file,
		toDriver:       toDriver,
		toClients:      toClients,
		counters:       counterManager,
		catalog:        catalog,
		registrations:  make(map[int64]*registration),
		clientLiveness: make(map[int64]int64),
		nextSessionID:  1,
	}
	d.errors = errorlog.New(layout.ErrorLogBuffer(file.Data), ctx.EpochClock, nil)
	d.toDriver.UpdateConsumerHeartbeatTime(ctx.EpochClock())

	return d, nil
}

// CncPath returns the path of the CnC file.
func (d *Driver) CncPath() string {
	return filepath.Join(d.ctx.AeronDir, cnc.File)
}

// DoWork services pending commands and client liveness. Returns the number
// of commands processed.
func (d *Driver) DoWork() int {
	now := d.ctx.EpochClock()
	work := d.toDriver.Read(d.onCommand, 16)
	d.toDriver.UpdateConsumerHeartbeatTime(now)
	d.checkClientLiveness(now)
	return work
}

// Close releases the CnC mapping and every publication log. The files stay
// on disk for attached clients; removing the directory is the operator's
// call.
func (d *Driver) Close() error {
	for _, pub := range d.publications {
		pub.log.Close()
	}
	return d.cncFile.Close()
}

func (d *Driver) onCommand(msgTypeID int32, data []byte) {
	switch msgTypeID {
	case command.AddPublicationTypeID:
		d.onAddPublication(data, false)
	case command.AddExclusivePublicationTypeID:
		d.onAddPublication(data, true)
	case command.RemovePublicationTypeID:
		d.onRemovePublication(data)
	case command.AddSubscriptionTypeID:
		d.onAddSubscription(data)
	case command.RemoveSubscriptionTypeID:
		d.onRemoveSubscription(data)
	case command.ClientKeepaliveTypeID:
		if correlated, err := command.DecodeCorrelated(data); err == nil {
			d.clientLiveness[correlated.ClientID] = d.ctx.EpochClock()
		}
	case command.AddDestinationTypeID, command.RemoveDestinationTypeID:
		d.onDestination(data)
	default:
		d.errors.Record(command.ErrorCodeGeneric, "unknown command", fmt.Sprintf("type=%d", msgTypeID))
	}
}

func (d *Driver) respondError(correlationID int64, code int32, message string) {
	d.errors.Record(code, "command rejected", message)
	d.toClients.Transmit(command.OnErrorTypeID, command.ErrorResponse{
		OffendingCorrelationID: correlationID,
		ErrorCode:              code,
		Message:                message,
	}.Encode())
}

func (d *Driver) findPublication(channel string, streamID int32) *publication {
	for _, pub := range d.publications {
		if !pub.exclusive && pub.channel == channel && pub.streamID == streamID {
			return pub
		}
	}
	return nil
}

func (d *Driver) onAddPublication(data []byte, exclusive bool) {
	msg, err := command.DecodePublication(data)
	if err != nil {
		d.errors.Record(command.ErrorCodeGeneric, "malformed command", err.Error())
		return
	}
	d.clientLiveness[msg.ClientID] = d.ctx.EpochClock()

	pub := (*publication)(nil)
	if !exclusive {
		pub = d.findPublication(msg.Channel, msg.StreamID)
	}

	if pub == nil {
		pub, err = d.newPublication(msg, exclusive)
		if err != nil {
			d.respondError(msg.CorrelationID, command.ErrorCodeStorageSpace, err.Error())
			return
		}
	}

	pub.refCount++
	d.registrations[msg.CorrelationID] = &registration{clientID: msg.ClientID, pub: pub}

	readyType := command.OnPublicationReadyTypeID
	if exclusive {
		readyType = command.OnExclusivePublicationReadyTypeID
	}
	d.toClients.Transmit(readyType, command.PublicationReady{
		CorrelationID:          msg.CorrelationID,
		OriginalRegistrationID: pub.registrationID,
		SessionID:              pub.sessionID,
		StreamID:               pub.streamID,
		PositionLimitCounterID: pub.posLimitCounterID,
		LogFile:                pub.logFile,
	}.Encode())

	d.publishImages(pub)
}

func (d *Driver) newPublication(msg command.Publication, exclusive bool) (*publication, error) {
	termLength := d.ctx.IPCTermBufferLength
	logFile := filepath.Join(d.ctx.AeronDir, publicationsDirName,
		fmt.Sprintf("%d.logbuffer", msg.CorrelationID))

	log, err := logbuffer.Create(logFile, termLength, d.ctx.TermBufferSparseFile)
	if err != nil {
		return nil, fmt.Errorf("create log buffer: %w", err)
	}

	sessionID := d.nextSessionID
	d.nextSessionID++

	limitID, err := d.counters.Allocate(counterTypePublisherLimit,
		fmt.Sprintf("pub-lmt: %d %s stream=%d session=%d", msg.CorrelationID, msg.Channel, msg.StreamID, sessionID))
	if err != nil {
		log.Close()
		os.Remove(logFile)
		return nil, err
	}
	d.counters.SetValue(limitID, int64(d.ctx.IPCPublicationTermWindowLength(termLength)))

	pub := &publication{
		registrationID:    msg.CorrelationID,
		channel:           msg.Channel,
		streamID:          msg.StreamID,
		sessionID:         sessionID,
		posLimitCounterID: limitID,
		logFile:           logFile,
		log:               log,
		exclusive:         exclusive,
	}
	d.publications = append(d.publications, pub)

	if d.catalog != nil {
		if err := d.catalog.RecordPublication(
			pub.registrationID, pub.channel, pub.streamID, pub.sessionID, pub.logFile, d.ctx.EpochClock()); err != nil {
			d.errors.Record(command.ErrorCodeStorageSpace, "archive catalog", err.Error())
		}
	}

	return pub, nil
}

// publishImages announces pub to every matching subscription that has not
// seen it yet.
func (d *Driver) publishImages(pub *publication) {
	for _, sub := range d.subscriptions {
		if sub.streamID != pub.streamID {
			continue
		}
		if _, seen := sub.positions[pub.registrationID]; seen {
			continue
		}
		d.publishImage(pub, sub)
	}
}

func (d *Driver) publishImage(pub *publication, sub *subscription) {
	posID, err := d.counters.Allocate(counterTypeSubscriberPosition,
		fmt.Sprintf("sub-pos: %d %s stream=%d session=%d", sub.registrationID, sub.channel, sub.streamID, pub.sessionID))
	if err != nil {
		d.errors.Record(command.ErrorCodeStorageSpace, "counter allocation", err.Error())
		return
	}
	sub.positions[pub.registrationID] = posID

	d.toClients.Transmit(command.OnAvailableImageTypeID, command.ImageReady{
		CorrelationID:            pub.registrationID,
		SubscriberRegistrationID: sub.registrationID,
		SessionID:                pub.sessionID,
		StreamID:                 pub.streamID,
		SubscriberPositionID:     posID,
		LogFile:                  pub.logFile,
		SourceIdentity:           ipcSourceIdentity,
	}.Encode())
}

func (d *Driver) onRemovePublication(data []byte) {
	msg, err := command.DecodeRemove(data)
	if err != nil {
		d.errors.Record(command.ErrorCodeGeneric, "malformed command", err.Error())
		return
	}
	d.clientLiveness[msg.ClientID] = d.ctx.EpochClock()

	reg, ok := d.registrations[msg.RegistrationID]
	if !ok || reg.pub == nil {
		d.respondError(msg.CorrelationID, command.ErrorCodeUnknownPublication,
			fmt.Sprintf("unknown publication: %d", msg.RegistrationID))
		return
	}
	delete(d.registrations, msg.RegistrationID)
	d.releasePublication(reg.pub)

	d.toClients.Transmit(command.OnOperationSuccessTypeID,
		command.OperationSuccess{CorrelationID: msg.CorrelationID}.Encode())
}

func (d *Driver) releasePublication(pub *publication) {
	pub.refCount--
	if pub.refCount > 0 {
		return
	}

	for i, p := range d.publications {
		if p == pub {
			d.publications = append(d.publications[:i], d.publications[i+1:]...)
			break
		}
	}
	d.counters.Free(pub.posLimitCounterID)
	pub.log.Close()

	for _, sub := range d.subscriptions {
		if posID, seen := sub.positions[pub.registrationID]; seen {
			delete(sub.positions, pub.registrationID)
			d.counters.Free(posID)
			d.toClients.Transmit(command.OnUnavailableImageTypeID, command.ImageUnavailable{
				CorrelationID: pub.registrationID,
				StreamID:      pub.streamID,
			}.Encode())
		}
	}

	if d.catalog != nil {
		if err := d.catalog.RecordPublicationClosed(pub.registrationID, d.ctx.EpochClock()); err != nil {
			d.errors.Record(command.ErrorCodeStorageSpace, "archive catalog", err.Error())
		}
	}
}

func (d *Driver) onAddSubscription(data []byte) {
	msg, err := command.DecodePublication(data)
	if err != nil {
		d.errors.Record(command.ErrorCodeGeneric, "malformed command", err.Error())
		return
	}
	d.clientLiveness[msg.ClientID] = d.ctx.EpochClock()

	sub := &subscription{
		registrationID: msg.CorrelationID,
		clientID:       msg.ClientID,
		channel:        msg.Channel,
		streamID:       msg.StreamID,
		positions:      make(map[int64]int32),
	}
	d.subscriptions = append(d.subscriptions, sub)
	d.registrations[msg.CorrelationID] = &registration{clientID: msg.ClientID, sub: sub}

	d.toClients.Transmit(command.OnOperationSuccessTypeID,
		command.OperationSuccess{CorrelationID: msg.CorrelationID}.Encode())

	for _, pub := range d.publications {
		if pub.streamID == sub.streamID {
			d.publishImage(pub, sub)
		}
	}
}

func (d *Driver) onRemoveSubscription(data []byte) {
	msg, err := command.DecodeRemove(data)
	if err != nil {
		d.errors.Record(command.ErrorCodeGeneric, "malformed command", err.Error())
		return
	}
	d.clientLiveness[msg.ClientID] = d.ctx.EpochClock()

	reg, ok := d.registrations[msg.RegistrationID]
	if !ok || reg.sub == nil {
		d.respondError(msg.CorrelationID, command.ErrorCodeUnknownSubscription,
			fmt.Sprintf("unknown subscription: %d", msg.RegistrationID))
		return
	}
	delete(d.registrations, msg.RegistrationID)
	d.releaseSubscription(reg.sub)

	d.toClients.Transmit(command.OnOperationSuccessTypeID,
		command.OperationSuccess{CorrelationID: msg.CorrelationID}.Encode())
}

func (d *Driver) releaseSubscription(sub *subscription) {
	for i, s := range d.subscriptions {
		if s == sub {
			d.subscriptions = append(d.subscriptions[:i], d.subscriptions[i+1:]...)
			break
		}
	}
	for _, posID := range sub.positions {
		d.counters.Free(posID)
	}
}

func (d *Driver) onDestination(data []byte) {
	msg, err := command.DecodeDestination(data)
	if err != nil {
		d.errors.Record(command.ErrorCodeGeneric, "malformed command", err.Error())
		return
	}
	d.clientLiveness[msg.ClientID] = d.ctx.EpochClock()

	if _, ok := d.registrations[msg.RegistrationID]; !ok {
		d.respondError(msg.CorrelationID, command.ErrorCodeInvalidChannel,
			fmt.Sprintf("unknown registration: %d", msg.RegistrationID))
		return
	}
	d.toClients.Transmit(command.OnOperationSuccessTypeID,
		command.OperationSuccess{CorrelationID: msg.CorrelationID}.Encode())
}

// checkClientLiveness expires clients that stopped sending keepalives and
// releases everything they registered.
func (d *Driver) checkClientLiveness(nowMs int64) {
	timeoutMs := d.ctx.ClientLivenessTimeoutNs / 1_000_000
	for clientID, lastSeen := range d.clientLiveness {
		if nowMs <= lastSeen+timeoutMs {
			continue
		}
		delete(d.clientLiveness, clientID)
		for registrationID, reg := range d.registrations {
			if reg.clientID != clientID {
				continue
			}
			delete(d.registrations, registrationID)
			if reg.pub != nil {
				d.releasePublication(reg.pub)
			}
			if reg.sub != nil {
				d.releaseSubscription(reg.sub)
			}
		}
	}
}
