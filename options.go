package solacelive

import (
	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/stream"
	"github.com/SolaceHarmony/SolaceLive-sub001/transport"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// Options configures a Conversation.
type Options struct {
	// Transport supplies and accepts whole packet frames. Required.
	Transport transport.FrameTransport

	// LocalStream is the stream identity this endpoint sends as.
	// Defaults to the user stream; the AI side sets StreamAI.
	LocalStream wire.StreamID

	// Processor tunes the receive pipeline. Zero values use defaults.
	Processor stream.ProcessorConfig

	// Synchronizer tunes the overlap detector. Zero values use defaults.
	Synchronizer stream.SynchronizerConfig

	// OverlapWindowMs is the trailing window scanned for speech
	// overlap after audio dispatches.
	OverlapWindowMs uint32

	// InterruptThresholdMs is the minimum overlap duration, with the
	// user dominant, before the interruption callback fires.
	InterruptThresholdMs uint32

	// MaxFrameSize bounds outbound frame size; larger encoded packets
	// are fragmented. Defaults to 16 KiB.
	MaxFrameSize int

	// ChecksumRequired rejects inbound packets without a checksum.
	ChecksumRequired bool
}

// NewOptions creates an Options with production defaults. The
// transport must still be supplied by the caller.
func NewOptions() *Options {
	return &Options{
		LocalStream:          wire.StreamUser,
		Processor:            stream.DefaultProcessorConfig(),
		Synchronizer:         stream.DefaultSynchronizerConfig(),
		OverlapWindowMs:      1000,
		InterruptThresholdMs: 300,
		MaxFrameSize:         16 * 1024,
	}
}

func (o *Options) applyDefaults() {
	if o.LocalStream == 0 {
		o.LocalStream = wire.StreamUser
	}
	if o.OverlapWindowMs == 0 {
		o.OverlapWindowMs = 1000
	}
	if o.InterruptThresholdMs == 0 {
		o.InterruptThresholdMs = 300
	}
	if o.MaxFrameSize <= 0 || o.MaxFrameSize > limits.MaxProcessingBuffer {
		o.MaxFrameSize = 16 * 1024
	}
}
