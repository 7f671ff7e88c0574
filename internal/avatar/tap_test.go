package avatar

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/audio"
)

// fakeSink records tap output in order. block, when set, stalls SendAudio
// until release is closed so tests can pile items up behind the sender.
type fakeSink struct {
	mu         sync.Mutex
	events     []string // "audio", "speak_end", "interrupt"
	audioBytes int
	release    chan struct{}
}

func (f *fakeSink) SendAudio(b64 string) {
	if f.release != nil {
		<-f.release
	}
	decoded, _ := base64.StdEncoding.DecodeString(b64)
	f.mu.Lock()
	f.events = append(f.events, "audio")
	f.audioBytes += len(decoded)
	f.mu.Unlock()
}

func (f *fakeSink) NotifySpeakEnd() {
	f.mu.Lock()
	f.events = append(f.events, "speak_end")
	f.mu.Unlock()
}

func (f *fakeSink) NotifyInterrupt() {
	f.mu.Lock()
	f.events = append(f.events, "interrupt")
	f.mu.Unlock()
}

func (f *fakeSink) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...), f.audioBytes
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

func pcmFrame(rate, samples int) audio.Frame {
	data := make([]byte, samples*2)
	for i := range data {
		data[i] = byte(i)
	}
	return audio.Frame{Data: data, SampleRate: rate, Channels: 1}
}

func TestTap_FlushEmitsAudioThenSpeakEnd(t *testing.T) {
	sink := &fakeSink{}
	var finishes []bool
	var finishMu sync.Mutex

	tap := NewTap(sink, TapOptions{
		TargetSampleRate: 24000,
		OnSegmentFinished: func(interrupted bool) {
			finishMu.Lock()
			finishes = append(finishes, interrupted)
			finishMu.Unlock()
		},
	}, zerolog.Nop(), nil)
	defer tap.Close()

	tap.CaptureFrame(pcmFrame(24000, 240))
	tap.CaptureFrame(pcmFrame(24000, 240))
	tap.Flush()

	waitFor(t, func() bool {
		events, _ := sink.snapshot()
		return len(events) > 0 && events[len(events)-1] == "speak_end"
	}, "speak_end after flush")

	events, bytes := sink.snapshot()
	if events[0] != "audio" {
		t.Errorf("Expected audio before speak_end, got %v", events)
	}
	if bytes != 2*240*2 {
		t.Errorf("Expected all queued audio forwarded, got %d bytes", bytes)
	}

	finishMu.Lock()
	defer finishMu.Unlock()
	if len(finishes) != 1 || finishes[0] != false {
		t.Errorf("Expected exactly one completed-segment callback, got %v", finishes)
	}
}

func TestTap_SegmentFinishedExactlyOnce(t *testing.T) {
	sink := &fakeSink{}
	var finishCount int
	var finishMu sync.Mutex

	tap := NewTap(sink, TapOptions{
		TargetSampleRate: 24000,
		OnSegmentFinished: func(bool) {
			finishMu.Lock()
			finishCount++
			finishMu.Unlock()
		},
	}, zerolog.Nop(), nil)
	defer tap.Close()

	tap.CaptureFrame(pcmFrame(24000, 240))
	tap.Flush()
	// No frames captured since the last boundary: these must not fire
	tap.Flush()
	tap.ClearBuffer()

	finishMu.Lock()
	defer finishMu.Unlock()
	if finishCount != 1 {
		t.Errorf("Expected exactly 1 finished callback, got %d", finishCount)
	}
}

func TestTap_ClearBufferDiscardsPendingAudio(t *testing.T) {
	release := make(chan struct{})
	sink := &fakeSink{release: release}

	var interrupted []bool
	var finishMu sync.Mutex
	tap := NewTap(sink, TapOptions{
		TargetSampleRate: 24000,
		OnSegmentFinished: func(i bool) {
			finishMu.Lock()
			interrupted = append(interrupted, i)
			finishMu.Unlock()
		},
	}, zerolog.Nop(), nil)
	defer tap.Close()

	// First frame gets taken by the sender and stalls in SendAudio;
	// the rest sits in the queue.
	tap.CaptureFrame(pcmFrame(24000, 240))
	time.Sleep(20 * time.Millisecond)
	tap.CaptureFrame(pcmFrame(24000, 240))
	tap.CaptureFrame(pcmFrame(24000, 240))

	tap.ClearBuffer()
	close(release)

	waitFor(t, func() bool {
		events, _ := sink.snapshot()
		for _, e := range events {
			if e == "interrupt" {
				return true
			}
		}
		return false
	}, "interrupt notification")

	// Queued frames were discarded: only the in-flight batch went out
	_, bytes := sink.snapshot()
	if bytes > 240*2 {
		t.Errorf("Expected discarded queue, got %d bytes forwarded", bytes)
	}

	finishMu.Lock()
	defer finishMu.Unlock()
	if len(interrupted) != 1 || interrupted[0] != true {
		t.Errorf("Expected one interrupted-segment callback, got %v", interrupted)
	}
}

func TestTap_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	release := make(chan struct{})
	sink := &fakeSink{release: release}

	tap := NewTap(sink, TapOptions{
		TargetSampleRate: 24000,
		QueueSize:        1,
	}, zerolog.Nop(), nil)
	defer tap.Close()

	// With the sender stalled, one frame is in flight, one fits the queue,
	// and the remaining three must drop without blocking the caller.
	start := time.Now()
	for i := 0; i < 5; i++ {
		tap.CaptureFrame(pcmFrame(24000, 240))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("CaptureFrame blocked on a full queue: %v", elapsed)
	}

	close(release)
	// Let the surviving frames drain before marking the boundary, so the
	// boundary itself is not squeezed out of the queue.
	waitFor(t, func() bool {
		_, bytes := sink.snapshot()
		return bytes >= 240*2
	}, "queued audio to drain")
	tap.Flush()

	waitFor(t, func() bool {
		events, _ := sink.snapshot()
		for _, e := range events {
			if e == "speak_end" {
				return true
			}
		}
		return false
	}, "speak_end")

	_, bytes := sink.snapshot()
	if bytes >= 5*240*2 {
		t.Errorf("Expected dropped frames, got all %d bytes", bytes)
	}
}

func TestTap_ResamplesToTargetRate(t *testing.T) {
	sink := &fakeSink{}
	tap := NewTap(sink, TapOptions{TargetSampleRate: 24000}, zerolog.Nop(), nil)
	defer tap.Close()

	// 480 samples at 48kHz should come out as roughly 240 samples at 24kHz
	tap.CaptureFrame(pcmFrame(48000, 480))
	tap.Flush()

	waitFor(t, func() bool {
		events, _ := sink.snapshot()
		return len(events) > 0 && events[len(events)-1] == "speak_end"
	}, "speak_end after flush")

	_, bytes := sink.snapshot()
	samples := bytes / 2
	if samples < 235 || samples > 245 {
		t.Errorf("Expected about 240 resampled samples, got %d", samples)
	}
}

func TestTap_CloseIsIdempotentAndStopsSender(t *testing.T) {
	sink := &fakeSink{}
	tap := NewTap(sink, TapOptions{TargetSampleRate: 24000}, zerolog.Nop(), nil)

	tap.CaptureFrame(pcmFrame(24000, 240))
	tap.Close()
	tap.Close()

	// Capturing after close is a no-op
	tap.CaptureFrame(pcmFrame(24000, 240))
}
