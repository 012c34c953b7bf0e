package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/stemplayer/internal/audio"
)

const (
	opusSampleRate    = 48000
	opusFrameDuration = 20 * time.Millisecond
	opusFrameSize     = 960 // frames per 20ms at 48kHz
)

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus streaming.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	quality     int
	mu          sync.Mutex
	peers       []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler. quality is the beep
// resampling quality used to lift the mix to 48kHz for Opus.
func NewWebRTCHandler(b *Broadcaster, bitrate, quality int) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = 128000
	}
	if quality <= 0 {
		quality = 4
	}
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		quality:     quality,
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: audio.Channels},
		"audio",
		"stemplayer-mix",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Wait for ICE gathering to complete
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	<-gatherComplete

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()

	log.Printf("WebRTC peer connected (total: %d)", h.PeerCount())

	listener := h.broadcaster.Subscribe()
	go h.streamToPeer(listener, audioTrack)

	// Clean up on disconnect
	var once sync.Once
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			once.Do(func() {
				h.broadcaster.Unsubscribe(listener)
				h.removePeer(pc)
				pc.Close()
				log.Printf("WebRTC peer disconnected (remaining: %d)", h.PeerCount())
			})
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// streamToPeer resamples the listener's 44.1kHz mix to 48kHz and sends it
// as 20ms Opus packets until the listener is unsubscribed.
func (h *WebRTCHandler) streamToPeer(listener *Listener, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(opusSampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder error: %v", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		log.Printf("WebRTC: set bitrate %d: %v", h.bitrate, err)
	}

	src := beep.Resample(h.quality, audio.Format.SampleRate, opusSampleRate, &listenerStreamer{l: listener})

	frames := make([][2]float64, opusFrameSize)
	pcm := make([]int16, opusFrameSize*audio.Channels)
	opusBuf := make([]byte, 4000)

	for {
		n, ok := fillFrames(src, frames)
		if n < len(frames) {
			// listener gone mid-frame
			return
		}
		interleaveInt16(pcm, frames)

		size, err := enc.Encode(pcm, opusBuf)
		if err != nil {
			log.Printf("WebRTC: opus encode error: %v", err)
			continue
		}
		if err := track.WriteSample(media.Sample{
			Data:     opusBuf[:size],
			Duration: opusFrameDuration,
		}); err != nil {
			return
		}
		if !ok {
			return
		}
	}
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return
		}
	}
}

// listenerStreamer exposes a Listener as a beep.Streamer. Stream blocks
// until enough PCM has arrived or the listener is unsubscribed.
type listenerStreamer struct {
	l       *Listener
	pending []float32
}

func (s *listenerStreamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if len(s.pending) < audio.Channels {
			select {
			case <-s.l.done:
				return n, n > 0
			case frame, ok := <-s.l.C:
				if !ok {
					return n, n > 0
				}
				s.pending = frame
			}
		}
		for len(s.pending) >= audio.Channels && n < len(samples) {
			samples[n] = [2]float64{float64(s.pending[0]), float64(s.pending[1])}
			s.pending = s.pending[audio.Channels:]
			n++
		}
	}
	return n, true
}

func (s *listenerStreamer) Err() error { return nil }

// fillFrames pulls from s until frames is full or s is drained.
func fillFrames(s beep.Streamer, frames [][2]float64) (int, bool) {
	filled := 0
	for filled < len(frames) {
		n, ok := s.Stream(frames[filled:])
		filled += n
		if !ok {
			return filled, false
		}
	}
	return filled, true
}

func interleaveInt16(dst []int16, frames [][2]float64) {
	var pair [2]float32
	for i, f := range frames {
		pair[0], pair[1] = float32(f[0]), float32(f[1])
		audio.ToInt16(dst[2*i:2*i+2], pair[:])
	}
}
