package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// ErrReleased is returned by a PionEngine after ReleaseAllResources.
var ErrReleased = errors.New("media engine released")

// frameDuration is the Opus packetization used by the default capture.
const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// CaptureFunc feeds local tracks until ctx is done.
type CaptureFunc func(ctx context.Context, audio, video *webrtc.TrackLocalStaticSample) error

// SilenceCapture sends Opus silence on the audio track and leaves video idle.
func SilenceCapture(ctx context.Context, audio, _ *webrtc.TrackLocalStaticSample) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				return err
			}
		}
	}
}

// Options configures a PionEngine.
type Options struct {
	// ICEServers are STUN URLs. Empty means host candidates only.
	ICEServers []string
	// Loopback adds 127.0.0.1 candidates, for calls on one machine.
	Loopback bool
	// Capture defaults to SilenceCapture.
	Capture CaptureFunc
}

// PionEngine is an Engine backed by one pion PeerConnection carrying an Opus
// audio track and a VP8 video track in each direction.
type PionEngine struct {
	pc    *webrtc.PeerConnection
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
	sink  Sink

	capture       CaptureFunc
	captureCtx    context.Context
	captureCancel context.CancelFunc
	captureDone   chan struct{}

	remoteTracks atomic.Int32

	mu        sync.Mutex
	capturing bool
	released  bool
}

var (
	_ Engine  = (*PionEngine)(nil)
	_ Traffic = (*PionEngine)(nil)
	_ Tracks  = (*PionEngine)(nil)
)

// NewPionFactory returns a Factory building PionEngines with opts.
func NewPionFactory(opts Options) Factory {
	return func(sink Sink) (Engine, error) {
		return NewPionEngine(opts, sink)
	}
}

// NewPionEngine creates the PeerConnection and local tracks. Nothing is
// negotiated until CreateLocalDescription.
func NewPionEngine(opts Options, sink Sink) (*PionEngine, error) {
	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}

	config := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "p2pcall",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "p2pcall",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	for _, track := range []*webrtc.TrackLocalStaticSample{audio, video} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	capture := opts.Capture
	if capture == nil {
		capture = SilenceCapture
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &PionEngine{
		pc:            pc,
		audio:         audio,
		video:         video,
		sink:          sink,
		capture:       capture,
		captureCtx:    ctx,
		captureCancel: cancel,
		captureDone:   make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("media: peer connection %s", state)
		e.sink(Event{Kind: EventConnectionState, State: connectionState(state)})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n := e.remoteTracks.Add(1)
		util.LogDebug("media: remote %s track %s (%d total)", track.Kind(), track.Codec().MimeType, n)
		go drainTrack(track)
	})

	return e, nil
}

func newAPI(opts Options) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	s.SetIncludeLoopbackCandidate(opts.Loopback)

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)), nil
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateLocalDescription creates an offer, or applies offer and creates the
// answer. Gathering runs in the background and ends with
// EventGatheringComplete.
func (e *PionEngine) CreateLocalDescription(kind negotiation.Kind, offer *negotiation.Record) error {
	if e.isReleased() {
		return ErrReleased
	}

	var (
		desc webrtc.SessionDescription
		err  error
	)
	switch kind {
	case negotiation.KindOffer:
		desc, err = e.pc.CreateOffer(nil)
	case negotiation.KindAnswer:
		if offer == nil || offer.Kind() != negotiation.KindOffer {
			return errors.New("answer requires the remote offer")
		}
		util.LogDebug("media: remote offer %s", summarize(offer.Body()))
		if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  offer.Body(),
		}); err != nil {
			return fmt.Errorf("apply remote offer: %w", err)
		}
		e.sink(Event{Kind: EventRemoteApplied})
		desc, err = e.pc.CreateAnswer(nil)
	default:
		return fmt.Errorf("unknown description kind %d", kind)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}

	// The promise must exist before SetLocalDescription starts gathering.
	gathered := webrtc.GatheringCompletePromise(e.pc)

	if err := e.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", kind, err)
	}

	if rec, err := negotiation.FromLocal(kind, desc.SDP); err == nil {
		e.sink(Event{Kind: EventLocalDescription, Record: rec})
	}

	go func() {
		<-gathered
		local := e.pc.LocalDescription()
		if local == nil {
			return
		}
		rec, err := negotiation.FromLocal(kind, local.SDP)
		if err != nil {
			e.sink(Event{Kind: EventGatheringComplete, Err: err})
			return
		}
		util.LogDebug("media: local %s %s", kind, summarize(local.SDP))
		e.sink(Event{Kind: EventGatheringComplete, Record: rec})
	}()

	return nil
}

// ApplyRemoteDescription sets the peer's answer. The outcome is reported with
// EventRemoteApplied.
func (e *PionEngine) ApplyRemoteDescription(rec negotiation.Record) error {
	if e.isReleased() {
		return ErrReleased
	}

	sdpType := webrtc.SDPTypeAnswer
	if rec.Kind() == negotiation.KindOffer {
		sdpType = webrtc.SDPTypeOffer
	}

	util.LogDebug("media: remote %s %s", rec.Kind(), summarize(rec.Body()))
	err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: rec.Body()})
	if err != nil {
		err = fmt.Errorf("apply remote %s: %w", rec.Kind(), err)
	}
	e.sink(Event{Kind: EventRemoteApplied, Err: err})
	return nil
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// StartLocalMediaCapture runs the capture function until release.
func (e *PionEngine) StartLocalMediaCapture() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return ErrReleased
	}
	if e.capturing {
		return nil
	}
	e.capturing = true

	go func() {
		defer close(e.captureDone)
		if err := e.capture(e.captureCtx, e.audio, e.video); err != nil && e.captureCtx.Err() == nil {
			util.LogWarning("media: capture stopped: %v", err)
		}
	}()

	util.LogDebug("media: local capture started")
	return nil
}

// Traffic returns bytes sent and received on the ICE transport.
func (e *PionEngine) Traffic() (sent, recv uint64) {
	for _, s := range e.pc.GetStats() {
		if ts, ok := s.(webrtc.TransportStats); ok {
			sent += ts.BytesSent
			recv += ts.BytesReceived
		}
	}
	return sent, recv
}

// RemoteTracks is the number of tracks received from the peer so far.
func (e *PionEngine) RemoteTracks() int {
	return int(e.remoteTracks.Load())
}

// ReleaseAllResources stops capture and closes the PeerConnection.
func (e *PionEngine) ReleaseAllResources() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	capturing := e.capturing
	e.mu.Unlock()

	e.captureCancel()
	if capturing {
		<-e.captureDone
	}

	if err := e.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	util.LogDebug("media: resources released")
	return nil
}

func (e *PionEngine) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func connectionState(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainTrack discards remote media; rendering is not handled here.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// summarize describes a session description for logs, e.g.
// "[audio video] 3 candidates".
func summarize(body string) string {
	var d sdp.SessionDescription
	if err := d.Unmarshal([]byte(body)); err != nil {
		return "(unparsable)"
	}

	media := make([]string, 0, len(d.MediaDescriptions))
	candidates := 0
	for _, m := range d.MediaDescriptions {
		media = append(media, m.MediaName.Media)
		for _, a := range m.Attributes {
			if a.Key == "candidate" {
				candidates++
			}
		}
	}
	return fmt.Sprintf("[%s] %d candidates", strings.Join(media, " "), candidates)
}
