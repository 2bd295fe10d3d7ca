package webrtc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pairlink/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	videoClockRate = 90000
	audioClockRate = 48000
	frameInterval  = 33 * time.Millisecond
	opusInterval   = 20 * time.Millisecond
)

// SyntheticMediaDevice produces locally generated capture tracks. Used where
// no OS capture device exists: servers, tests, headless peers.
type SyntheticMediaDevice struct {
	logger *zap.SugaredLogger
}

// NewSyntheticMediaDevice creates a media device backed by generated RTP.
func NewSyntheticMediaDevice(logger *zap.SugaredLogger) *SyntheticMediaDevice {
	return &SyntheticMediaDevice{logger: logger}
}

// AcquireMedia creates one VP8 video track and one Opus audio track and starts
// their packet writers. Tracks stay live until Stop.
func (d *SyntheticMediaDevice) AcquireMedia(ctx context.Context) (ports.MediaStream, error) {
	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"pairlink-video",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"pairlink-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	stream := &syntheticStream{
		video:  videoTrack,
		audio:  audioTrack,
		done:   make(chan struct{}),
		logger: d.logger,
	}
	stream.wg.Add(2)
	go stream.writeLoop(videoTrack, frameInterval, videoClockRate, 96)
	go stream.writeLoop(audioTrack, opusInterval, audioClockRate, 111)

	d.logger.Infow("synthetic media acquired",
		"video_track", videoTrack.ID(),
		"audio_track", audioTrack.ID(),
	)
	return stream, nil
}

// syntheticStream is a pair of generated tracks with their writer goroutines.
type syntheticStream struct {
	video *webrtc.TrackLocalStaticRTP
	audio *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup

	logger *zap.SugaredLogger
}

func (s *syntheticStream) VideoTracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.video}
}

func (s *syntheticStream) AudioTracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio}
}

// Live reports whether the writers are still producing packets.
func (s *syntheticStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// Stop halts both writers. Idempotent.
func (s *syntheticStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.logger.Debugw("synthetic media stopped")
}

// writeLoop emits a minimal RTP packet per tick. Payloads are filler; timing
// and sequence numbers follow the codec's clock so receivers see a coherent
// stream.
func (s *syntheticStream) writeLoop(track *webrtc.TrackLocalStaticRTP, interval time.Duration, clockRate uint32, payloadType uint8) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ssrc := rand.Uint32()
	seq := uint16(rand.Intn(1 << 16))
	timestamp := rand.Uint32()
	tsStep := uint32(float64(clockRate) * interval.Seconds())

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: payloadType,
			SSRC:        ssrc,
		},
		Payload: make([]byte, 64),
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			packet.Header.SequenceNumber = seq
			packet.Header.Timestamp = timestamp
			seq++
			timestamp += tsStep

			if err := track.WriteRTP(packet); err != nil {
				s.logger.Debugw("rtp write failed",
					"track_id", track.ID(),
					"error", err,
				)
			}
		}
	}
}
