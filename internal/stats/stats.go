// Package stats periodically samples the transport's WebRTC stats report
// and computes bitrate/latency figures for the dashboard bridge and the
// server-facing _stats_video report.
package stats

import (
	"context"
	"math"
	"time"

	"github.com/pion/webrtc/v4"
)

// Snapshot is one immutable sample of the connection's media performance.
type Snapshot struct {
	Timestamp           time.Time
	VideoBitrateMbps     float64
	AudioBitrateKbps     float64
	VideoLatencyMs       float64
	AudioLatencyMs       float64
	ConnectionLatencyMs  float64
	VideoCodec           string
	AudioCodec           string
	RTT                  time.Duration
}

// Source is the subset of transport.Manager the aggregator depends on.
type Source interface {
	GetStats() (webrtc.StatsReport, bool)
}

// FrameCounter is the subset of transport.Manager the client FPS/latency
// push depends on. Optional: an Aggregator with no FrameCounter set simply
// never pushes client metrics.
type FrameCounter interface {
	PacketCounts() (packets, frames uint64)
}

// clientPushInterval is the period on which client-side FPS and latency are
// pushed back to the server over the data channel (independent of Source's
// sampling interval).
const clientPushInterval = 5 * time.Second

// Aggregator samples a Source on a fixed interval and reports computed
// Snapshots.
type Aggregator struct {
	source   Source
	interval time.Duration
	onSample func(Snapshot)

	havePrev bool
	prevTime time.Time
	prevVideo mediaStats
	prevAudio mediaStats

	frameCounter    FrameCounter
	onClientMetrics func(fpsInt, latencyMs int)
	prevFrames      uint64
	prevFrameTime   time.Time
	lastSnapshot    Snapshot
}

// NewAggregator creates an Aggregator. onSample is invoked once per tick
// with the computed Snapshot; it may be nil.
func NewAggregator(source Source, interval time.Duration, onSample func(Snapshot)) *Aggregator {
	return &Aggregator{source: source, interval: interval, onSample: onSample}
}

// SetClientMetricsSink enables the 5-second client FPS/latency push: fc
// provides the decoded-frame counter and fn is invoked with the computed
// integer FPS and latency (milliseconds) every clientPushInterval.
func (a *Aggregator) SetClientMetricsSink(fc FrameCounter, fn func(fpsInt, latencyMs int)) {
	a.frameCounter = fc
	a.onClientMetrics = fn
}

// Run samples the source every interval until ctx is done, and, if a client
// metrics sink is set, pushes client FPS/latency every clientPushInterval on
// an independent ticker.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	var clientTicker *time.Ticker
	var clientTickC <-chan time.Time
	if a.frameCounter != nil && a.onClientMetrics != nil {
		clientTicker = time.NewTicker(clientPushInterval)
		defer clientTicker.Stop()
		clientTickC = clientTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if snap, ok := a.Sample(time.Now()); ok && a.onSample != nil {
				a.lastSnapshot = snap
				a.onSample(snap)
			}
		case now := <-clientTickC:
			a.pushClientMetrics(now)
		}
	}
}

// pushClientMetrics computes the decoded-frame rate since the previous push
// and reports it alongside the most recent connection latency sample.
func (a *Aggregator) pushClientMetrics(now time.Time) {
	_, frames := a.frameCounter.PacketCounts()

	if a.prevFrameTime.IsZero() {
		a.prevFrames, a.prevFrameTime = frames, now
		return
	}

	dt := now.Sub(a.prevFrameTime).Seconds()
	fps := 0
	if dt > 0 {
		fps = int(float64(diffUint64(a.prevFrames, frames))/dt + 0.5)
	}
	a.prevFrames, a.prevFrameTime = frames, now

	a.onClientMetrics(fps, int(a.lastSnapshot.ConnectionLatencyMs+0.5))
}

// Sample takes one reading, diffing against the previous reading to
// compute rate/latency figures. The first call after construction (or
// after a gap with no prior data) returns ok=false since there is nothing
// to diff against yet.
func (a *Aggregator) Sample(now time.Time) (Snapshot, bool) {
	report, ok := a.source.GetStats()
	if !ok {
		return Snapshot{}, false
	}

	video, _ := extractInboundMediaStats(report, "video")
	audio, _ := extractInboundMediaStats(report, "audio")
	rtt, _ := extractRTT(report)

	if !a.havePrev {
		a.prevVideo, a.prevAudio, a.prevTime = video, audio, now
		a.havePrev = true
		return Snapshot{}, false
	}

	dt := now.Sub(a.prevTime).Seconds()
	snap := computeSnapshot(a.prevVideo, video, a.prevAudio, audio, dt, rtt, now)

	a.prevVideo, a.prevAudio, a.prevTime = video, audio, now
	return snap, true
}

type mediaStats struct {
	bytesReceived        uint64
	jitterBufferDelay     float64
	jitterBufferEmitted   uint64
	codec                 string
}

func computeSnapshot(prevVideo, video, prevAudio, audio mediaStats, dt float64, rtt time.Duration, now time.Time) Snapshot {
	snap := Snapshot{
		Timestamp: now,
		VideoCodec: video.codec,
		AudioCodec: audio.codec,
		RTT:        rtt,
	}

	if dt > 0 {
		deltaVideoBytes := float64(diffUint64(prevVideo.bytesReceived, video.bytesReceived))
		deltaAudioBytes := float64(diffUint64(prevAudio.bytesReceived, audio.bytesReceived))
		snap.VideoBitrateMbps = (deltaVideoBytes * 8) / (dt * 1e6)
		snap.AudioBitrateKbps = (deltaAudioBytes * 8) / (dt * 1e3)
	}

	rttMs := float64(rtt) / float64(time.Millisecond)
	snap.VideoLatencyMs = rttMs + latencyContribution(prevVideo, video)
	snap.AudioLatencyMs = rttMs + latencyContribution(prevAudio, audio)
	snap.ConnectionLatencyMs = snap.VideoLatencyMs
	if snap.AudioLatencyMs > snap.ConnectionLatencyMs {
		snap.ConnectionLatencyMs = snap.AudioLatencyMs
	}
	return snap
}

// latencyContribution computes 1000 * Δjbdelay / Δjbemitted, i.e. the
// average per-sample jitter buffer hold time in milliseconds. Returns 0 if
// no samples were emitted in the interval.
func latencyContribution(prev, curr mediaStats) float64 {
	deltaEmitted := diffUint64(prev.jitterBufferEmitted, curr.jitterBufferEmitted)
	if deltaEmitted == 0 {
		return 0
	}
	deltaDelay := curr.jitterBufferDelay - prev.jitterBufferDelay
	if deltaDelay < 0 {
		return 0
	}
	return 1000 * deltaDelay / float64(deltaEmitted)
}

func diffUint64(prev, curr uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

// extractInboundMediaStats picks the inbound RTP stream with the most
// received packets for the given media kind, mirroring the teacher's
// "pick the stream with the most received packets" selection heuristic.
func extractInboundMediaStats(report webrtc.StatsReport, kind string) (mediaStats, bool) {
	var best mediaStats
	var bestPackets uint32
	found := false

	for _, s := range report {
		in, isIn := s.(webrtc.InboundRTPStreamStats)
		if !isIn || in.Kind != kind {
			continue
		}
		if !found || in.PacketsReceived >= bestPackets {
			bestPackets = in.PacketsReceived
			best = mediaStats{
				bytesReceived:       in.BytesReceived,
				jitterBufferDelay:   in.JitterBufferDelay,
				jitterBufferEmitted: in.JitterBufferEmittedCount,
				codec:               in.CodecID,
			}
			found = true
		}
	}
	return best, found
}

// extractRTT reads the current round trip time off the active (nominated,
// succeeded) ICE candidate pair.
func extractRTT(report webrtc.StatsReport) (time.Duration, bool) {
	for _, s := range report {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok {
			continue
		}
		if pair.Nominated && pair.State == webrtc.StatsICECandidatePairStateSucceeded {
			return time.Duration(math.Round(pair.CurrentRoundTripTime * float64(time.Second))), true
		}
	}
	return 0, false
}
