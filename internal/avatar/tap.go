package avatar

import (
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/audio"
	"github.com/tripandevent/voice-agent-bridge/internal/observability"
)

// Sink receives the tap's output. *Session satisfies it; tests substitute
// a recording fake.
type Sink interface {
	SendAudio(b64Audio string)
	NotifySpeakEnd()
	NotifyInterrupt()
}

// tapItem is one queued unit of work for the sender. flush marks a segment
// boundary rather than carrying audio.
type tapItem struct {
	data  []byte
	flush bool
}

// Tap siphons the agent's synthesized audio to the avatar's lip-sync channel
// without blocking the audio pipeline. Frames go into a bounded queue; when
// the queue is full the frame is dropped, never the pipeline stalled. A single
// background sender drains the queue, coalescing adjacent buffers into one
// channel message.
//
// Segment lifecycle: the first frame after a boundary opens a segment, and
// exactly one finished callback fires per opened segment, either from Flush
// (completed) or ClearBuffer (interrupted).
//
// The tap does not own its sink. Close stops the sender only; whoever created
// the sink stops it afterwards (the conversation wiring closes the tap before
// stopping the avatar session).
type Tap struct {
	sink       Sink
	logger     zerolog.Logger
	metrics    *observability.Metrics
	targetRate int
	onFinished func(interrupted bool)

	queue      chan tapItem
	stop       chan struct{}
	senderDone chan struct{}

	mu               sync.Mutex
	resampler        *audio.Resampler
	resamplerChecked bool
	segmentActive    bool
	closed           bool
}

// TapOptions configures a Tap
type TapOptions struct {
	TargetSampleRate int // provider input rate, typically 24000
	QueueSize        int // frames buffered before dropping, default 500
	// OnSegmentFinished fires exactly once per audio segment, with
	// interrupted=true when the segment ended via ClearBuffer.
	OnSegmentFinished func(interrupted bool)
}

// NewTap creates a tap over sink and starts its sender. metrics may be nil.
func NewTap(sink Sink, opts TapOptions, logger zerolog.Logger, metrics *observability.Metrics) *Tap {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 500
	}
	if opts.TargetSampleRate <= 0 {
		opts.TargetSampleRate = 24000
	}
	t := &Tap{
		sink:       sink,
		logger:     logger,
		metrics:    metrics,
		targetRate: opts.TargetSampleRate,
		onFinished: opts.OnSegmentFinished,
		queue:      make(chan tapItem, opts.QueueSize),
		stop:       make(chan struct{}),
		senderDone: make(chan struct{}),
	}
	go t.sendLoop()
	return t
}

// CaptureFrame queues one PCM frame for forwarding. The first frame after a
// boundary opens a new segment. Never blocks: a full queue drops the frame.
func (t *Tap) CaptureFrame(frame audio.Frame) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.segmentActive = true

	if !t.resamplerChecked {
		t.resamplerChecked = true
		if frame.SampleRate != t.targetRate {
			r, err := audio.NewResampler(frame.SampleRate, t.targetRate)
			if err != nil {
				t.logger.Error().Err(err).Msg("Audio tap resampler init failed")
			} else {
				t.resampler = r
				t.logger.Info().
					Int("input_rate", frame.SampleRate).
					Int("output_rate", t.targetRate).
					Msg("Audio tap resampler created")
			}
		}
	}

	data := frame.Data
	if t.resampler != nil {
		resampled, err := t.resampler.Push(frame.Data)
		if err != nil {
			t.mu.Unlock()
			t.logger.Warn().Err(err).Msg("Audio tap resample failed, frame dropped")
			return
		}
		data = resampled
	}
	t.mu.Unlock()

	if len(data) == 0 {
		return
	}
	t.enqueue(tapItem{data: data})
}

// Flush marks the current segment complete: the finished callback fires with
// interrupted=false, the resampler's trailing samples are queued, and a
// boundary item tells the sender to emit the speak-end notification after the
// queued audio.
func (t *Tap) Flush() {
	t.mu.Lock()
	t.finishSegmentLocked(false)
	var tail []byte
	if t.resampler != nil {
		tail = t.resampler.Flush()
	}
	t.mu.Unlock()

	if len(tail) > 0 {
		t.enqueue(tapItem{data: tail})
	}
	t.enqueue(tapItem{flush: true})
}

// ClearBuffer abandons the current segment on barge-in: the finished callback
// fires with interrupted=true, pending queued audio is discarded, and the
// provider is told to stop buffered playback.
func (t *Tap) ClearBuffer() {
	t.mu.Lock()
	t.finishSegmentLocked(true)
	t.mu.Unlock()

discard:
	for {
		select {
		case <-t.queue:
		default:
			break discard
		}
	}

	go t.sink.NotifyInterrupt()
}

// Close stops the sender and waits for it to exit. The sink's own lifecycle
// is owned by the caller. Safe to call more than once.
func (t *Tap) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stop)
	<-t.senderDone
}

func (t *Tap) finishSegmentLocked(interrupted bool) {
	if !t.segmentActive {
		return
	}
	t.segmentActive = false
	if t.metrics != nil {
		t.metrics.RecordSegment(interrupted)
	}
	if t.onFinished != nil {
		t.onFinished(interrupted)
	}
}

func (t *Tap) enqueue(item tapItem) {
	select {
	case t.queue <- item:
	default:
		// Dropping a frame beats stalling the audio pipeline
		if t.metrics != nil {
			t.metrics.RecordAudioDropped()
		}
		t.logger.Warn().Msg("Audio tap queue full, frame dropped")
	}
}

// sendLoop drains the queue, batching adjacent buffers into one message.
// A boundary item flushes the batch first, then emits speak-end.
func (t *Tap) sendLoop() {
	defer close(t.senderDone)

	for {
		var item tapItem
		select {
		case <-t.stop:
			return
		case item = <-t.queue:
		}

		if item.flush {
			t.sink.NotifySpeakEnd()
			continue
		}

		batch := append([]byte(nil), item.data...)
		boundary := false
	drain:
		for {
			select {
			case next := <-t.queue:
				if next.flush {
					boundary = true
					break drain
				}
				batch = append(batch, next.data...)
			default:
				break drain
			}
		}

		t.sink.SendAudio(base64.StdEncoding.EncodeToString(batch))
		if t.metrics != nil {
			t.metrics.RecordAudioForwarded(int64(len(batch)))
		}

		if boundary {
			t.sink.NotifySpeakEnd()
		}
	}
}
