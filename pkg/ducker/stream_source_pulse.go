package ducker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const (
	propApplicationName   = "application.name"
	propApplicationBinary = "application.process.binary"

	// PA_VOLUME_NORM, 100%
	paVolumeNorm = 0x10000

	pulseRequestTimeout = time.Second
	pulseCookieSize     = 256
)

// pulseBackend talks to the audio server over the native PulseAudio protocol.
// The connection is opened lazily and dropped on any error, so a server that
// isn't up yet (or restarts) is simply retried on the next cycle
type pulseBackend struct {
	logger *zap.SugaredLogger

	lock   sync.Mutex
	active *pulseConnection

	subscribe     bool
	streamChanges chan struct{}
}

// pulseConnection is one session with the server. closed is set from the
// client's read goroutine once the server hangs up
type pulseConnection struct {
	client *proto.Client
	conn   net.Conn
	closed atomic.Bool
}

func newPulseBackend(logger *zap.SugaredLogger, subscribe bool) *pulseBackend {
	pb := &pulseBackend{
		logger:        logger.Named("pulse"),
		subscribe:     subscribe,
		streamChanges: make(chan struct{}, 1), // coalesces bursts of events into one wakeup
	}

	pb.logger.Debugw("Created PA backend instance", "subscribe", subscribe)

	return pb
}

func (pb *pulseBackend) connect(ctx context.Context) (*proto.Client, error) {
	if pb.active != nil {
		if !pb.active.closed.Load() {
			return pb.active.client, nil
		}

		pb.logger.Debug("PulseAudio server closed the connection, reconnecting")
		pb.disconnect()
	}

	network, address := pulseServerAddress()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	pc := &pulseConnection{conn: conn}

	// the callback has to be in place before Open starts the read loop
	pc.client = &proto.Client{Callback: func(msg interface{}) {
		pb.onServerMessage(pc, msg)
	}}
	pc.client.SetTimeout(pulseRequestTimeout)
	pc.client.Open(conn)

	if err := pb.handshake(pc.client); err != nil {
		_ = conn.Close()
		return nil, err
	}

	pb.active = pc

	return pc.client, nil
}

func (pb *pulseBackend) handshake(client *proto.Client) error {
	cookie, err := pulseCookie()
	if err != nil {
		return fmt.Errorf("read PulseAudio cookie: %w", err)
	}

	authReply := proto.AuthReply{}
	if err := client.Request(&proto.Auth{Version: client.Version(), Cookie: cookie}, &authReply); err != nil {
		return fmt.Errorf("authenticate with PulseAudio server: %w", err)
	}
	client.SetVersion(authReply.Version)

	request := proto.SetClientName{
		Props: proto.PropList{
			propApplicationName: proto.PropListString("ducker"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		return fmt.Errorf("set PulseAudio client name: %w", err)
	}

	if pb.subscribe {
		// subscribe to sink input events (stream creation, cork/mute changes, removal)
		if err := client.Request(&proto.Subscribe{Mask: proto.SubscriptionMaskSinkInput}, nil); err != nil {
			return fmt.Errorf("subscribe to PulseAudio sink input events: %w", err)
		}
	}

	pb.logger.Infow("Connected to PulseAudio server",
		"clientIndex", reply.ClientIndex,
		"protocolVersion", authReply.Version.Version())

	return nil
}

// onServerMessage runs on the client's read goroutine and must not take pb.lock,
// a request holding it may be waiting on this very goroutine
func (pb *pulseBackend) onServerMessage(pc *pulseConnection, msg interface{}) {
	switch msg := msg.(type) {
	case *proto.ConnectionClosed:
		pc.closed.Store(true)

		// wake the event scheduler so the next cycle reconnects right away
		if pb.subscribe {
			pb.notifyStreamChange()
		}
	case *proto.SubscribeEvent:
		if pb.subscribe && msg.Event&proto.EventFacilityMask == proto.EventSinkSinkInput {
			pb.notifyStreamChange()
		}
	}
}

// pulseServerAddress picks the first usable entry of PULSE_SERVER, falling back
// to the per-user socket
func pulseServerAddress() (string, string) {
	for _, server := range strings.Fields(os.Getenv("PULSE_SERVER")) {
		// "{machine-id}" prefixes only restrict which host may use the entry
		if strings.HasPrefix(server, "{") {
			end := strings.IndexByte(server, '}')
			if end < 0 {
				continue
			}
			server = server[end+1:]
		}

		switch {
		case strings.HasPrefix(server, "/"):
			return "unix", server
		case strings.HasPrefix(server, "unix:"):
			return "unix", strings.TrimPrefix(server, "unix:")
		case strings.HasPrefix(server, "tcp4:"):
			return "tcp4", strings.TrimPrefix(server, "tcp4:")
		case strings.HasPrefix(server, "tcp6:"):
			return "tcp6", strings.TrimPrefix(server, "tcp6:")
		case strings.HasPrefix(server, "tcp:"):
			return "tcp", strings.TrimPrefix(server, "tcp:")
		}
	}

	return "unix", filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), "pulse", "native")
}

func pulseCookie() ([]byte, error) {
	path := filepath.Join(os.Getenv("HOME"), ".config", "pulse", "cookie")
	if override, ok := os.LookupEnv("PULSE_COOKIE"); ok {
		path = override
	}

	cookie, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// servers running with auth-anonymous accept any cookie
		return make([]byte, pulseCookieSize), nil
	}

	return cookie, err
}

func (pb *pulseBackend) notifyStreamChange() {
	select {
	case pb.streamChanges <- struct{}{}:
	default:
	}
}

// request performs a single request bounded by the context's deadline.
// any failure throws the connection away
func (pb *pulseBackend) request(ctx context.Context, args proto.RequestArgs, reply proto.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := pb.connect(ctx)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Request(args, reply)
	}()

	select {
	case err := <-done:
		if err != nil {
			pb.disconnect()
			return err
		}
		return nil
	case <-ctx.Done():
		// closing the connection makes the pending request fail, which ends its goroutine
		pb.disconnect()
		return ctx.Err()
	}
}

func (pb *pulseBackend) disconnect() {
	if pb.active == nil {
		return
	}

	if err := pb.active.conn.Close(); err != nil {
		pb.logger.Debugw("Failed to close PulseAudio connection", "error", err)
	}

	pb.active = nil

	pb.logger.Debug("Dropped PulseAudio connection")
}

func (pb *pulseBackend) Snapshot(ctx context.Context) (Snapshot, error) {
	pb.lock.Lock()
	defer pb.lock.Unlock()

	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := pb.request(ctx, &request, &reply); err != nil {
		return nil, fmt.Errorf("get sink input list: %w", err)
	}

	snapshot := make(Snapshot, 0, len(reply))
	for _, info := range reply {
		snapshot = append(snapshot, streamFromSinkInput(info))
	}

	return snapshot, nil
}

func (pb *pulseBackend) SetVolume(ctx context.Context, index uint32, percent uint8) error {
	pb.lock.Lock()
	defer pb.lock.Unlock()

	// the volume has to be given per channel, so look the channel count up first
	infoRequest := proto.GetSinkInputInfo{SinkInputIndex: index}
	info := proto.GetSinkInputInfoReply{}

	if err := pb.request(ctx, &infoRequest, &info); err != nil {
		return fmt.Errorf("get sink input %d info: %w", index, err)
	}

	request := proto.SetSinkInputVolume{
		SinkInputIndex: index,
		ChannelVolumes: channelVolumes(info.Channels, percent),
	}

	if err := pb.request(ctx, &request, nil); err != nil {
		return fmt.Errorf("set sink input %d volume: %w", index, err)
	}

	return nil
}

func (pb *pulseBackend) StreamChanges() <-chan struct{} {
	return pb.streamChanges
}

func (pb *pulseBackend) Release() error {
	pb.lock.Lock()
	defer pb.lock.Unlock()

	if pb.active == nil {
		return nil
	}

	conn := pb.active.conn
	pb.active = nil

	if err := conn.Close(); err != nil {
		pb.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	pb.logger.Debug("Released PA backend instance")

	return nil
}

func streamFromSinkInput(info *proto.GetSinkInputInfoReply) StreamRecord {
	record := StreamRecord{
		Index:  info.SinkInputIndex,
		Corked: info.Corked,
		Muted:  info.Muted,
	}

	if name, ok := info.Properties[propApplicationName]; ok {
		record.ApplicationName = name.String()
	}
	if binary, ok := info.Properties[propApplicationBinary]; ok {
		record.ApplicationBinary = binary.String()
	}

	return record
}

func channelVolumes(channels byte, percent uint8) proto.ChannelVolumes {
	// mono is the smallest a stream can be
	if channels == 0 {
		channels = 1
	}

	volumes := make(proto.ChannelVolumes, channels)
	for i := range volumes {
		volumes[i] = uint32(percent) * paVolumeNorm / 100
	}

	return volumes
}
