package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	solacelive "github.com/SolaceHarmony/SolaceLive-sub001"
	"github.com/SolaceHarmony/SolaceLive-sub001/stream"
	"github.com/SolaceHarmony/SolaceLive-sub001/transport"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// soakCmd pushes a configurable stream of audio frames through two
// conversations joined by a simulated lossy link and reports what the
// pipeline did with them.
func soakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "soak",
		Short: "Run the pipeline over a simulated lossy loopback link",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSoak()
		},
	}
}

func runSoak() error {
	soak := cfg.Soak

	sim := transport.SimConfig{
		Latency:       time.Duration(soak.LatencyMs) * time.Millisecond,
		Jitter:        time.Duration(soak.JitterMs) * time.Millisecond,
		LossRate:      soak.LossRate,
		ReorderRate:   soak.ReorderRate,
		DuplicateRate: soak.DuplicateRate,
		Seed:          soak.Seed,
	}
	userEnd, aiEnd := transport.NewLoopbackPair(sim)
	defer userEnd.Close()
	defer aiEnd.Close()

	user, err := newSoakConversation(userEnd, wire.StreamUser)
	if err != nil {
		return err
	}
	defer user.Kill()
	ai, err := newSoakConversation(aiEnd, wire.StreamAI)
	if err != nil {
		return err
	}
	defer ai.Kill()

	var received, retransmits, dropped atomic.Uint64
	ai.On(stream.EventUserAudio, func(stream.Event) { received.Add(1) })
	ai.On(stream.EventRetransmitRequest, func(stream.Event) { retransmits.Add(1) })
	ai.On(stream.EventPacketDropped, func(stream.Event) { dropped.Add(1) })

	if err := user.Start(); err != nil {
		return err
	}
	if err := ai.Start(); err != nil {
		return err
	}

	pterm.Info.Printfln("Soaking %d frames at %s over loss=%.2f reorder=%.2f dup=%.2f",
		soak.Packets, soak.FrameInterval(), soak.LossRate, soak.ReorderRate, soak.DuplicateRate)

	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return fmt.Errorf("start live area: %w", err)
	}

	meta := wire.AudioMeta{
		SampleRate: 24000,
		Channels:   1,
		Samples:    uint32(24 * soak.FrameMs),
		Codec:      "pcm16",
		DurationMs: soak.FrameMs,
	}
	frame := make([]byte, 2*meta.Samples)
	ticker := time.NewTicker(soak.FrameInterval())
	defer ticker.Stop()

	for i := 0; i < soak.Packets; i++ {
		<-ticker.C
		if err := user.SendAudio(meta, frame); err != nil {
			area.Stop()
			return fmt.Errorf("send frame %d: %w", i, err)
		}
		if i%25 == 0 {
			area.Update(soakProgress(i+1, soak.Packets, &received, &retransmits, &dropped))
		}
	}

	// Let the tail drain: late frames, retransmit timers, TTL expiry.
	settle := 2*time.Duration(cfg.Pipeline.JitterDelayMs)*time.Millisecond + 500*time.Millisecond
	time.Sleep(settle)
	area.Update(soakProgress(soak.Packets, soak.Packets, &received, &retransmits, &dropped))
	area.Stop()

	printSoakSummary(user, ai, &received, &retransmits, &dropped)
	return nil
}

func newSoakConversation(t transport.FrameTransport, local wire.StreamID) (*solacelive.Conversation, error) {
	opts := solacelive.NewOptions()
	opts.Transport = t
	opts.LocalStream = local
	opts.Processor.DispatchIntervalMs = cfg.Pipeline.DispatchIntervalMs
	opts.Processor.DefaultTTLMs = cfg.Pipeline.DefaultTTLMs
	opts.Processor.Jitter.TargetDelayMs = cfg.Pipeline.JitterDelayMs
	opts.Processor.Jitter.MinDelayMs = cfg.Pipeline.JitterMinDelayMs
	opts.Processor.Jitter.MaxDelayMs = cfg.Pipeline.JitterMaxDelayMs
	opts.Processor.Jitter.Adaptive = cfg.Pipeline.JitterAdaptive
	if cfg.Pipeline.JitterCapacity > 0 {
		opts.Processor.Jitter.Capacity = cfg.Pipeline.JitterCapacity
	}
	conv, err := solacelive.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create %s conversation: %w", local, err)
	}
	return conv, nil
}

func soakProgress(sent, total int, received, retransmits, dropped *atomic.Uint64) string {
	return fmt.Sprintf("sent %d/%d  delivered %d  retransmit-requests %d  dropped %d",
		sent, total, received.Load(), retransmits.Load(), dropped.Load())
}

func printSoakSummary(user, ai *solacelive.Conversation, received, retransmits, dropped *atomic.Uint64) {
	aiStats := ai.Stats()
	sent, _, lost := senderLinkStats(user)

	data := pterm.TableData{
		{"Metric", "Count"},
		{"frames sent", fmt.Sprintf("%d", sent)},
		{"frames lost on link", fmt.Sprintf("%d", lost)},
		{"audio events delivered", fmt.Sprintf("%d", received.Load())},
		{"retransmit requests", fmt.Sprintf("%d", retransmits.Load())},
		{"ttl drops", fmt.Sprintf("%d", dropped.Load())},
		{"receiver packets received", fmt.Sprintf("%d", aiStats.User.PacketsReceived)},
		{"receiver packets dispatched", fmt.Sprintf("%d", aiStats.User.PacketsDispatched)},
		{"receiver outstanding gaps", fmt.Sprintf("%d", aiStats.User.OutstandingGaps)},
		{"jitter target delay (ms)", fmt.Sprintf("%d", aiStats.User.Jitter.TargetDelayMs)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		pterm.Error.Printfln("render summary: %v", err)
	}

	if received.Load() == uint64(sent)-lost {
		pterm.Success.Println("Every frame that survived the link was delivered in order")
	}
}

// senderLinkStats reads the loopback counters when the conversation
// runs over a loopback endpoint; other transports report zeros.
func senderLinkStats(conv *solacelive.Conversation) (sent, delivered, droppedOnLink uint64) {
	if lb, ok := conv.Transport().(*transport.LoopbackTransport); ok {
		return lb.Stats()
	}
	return 0, 0, 0
}
