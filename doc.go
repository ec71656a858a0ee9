// Package solacelive is the packet transport core for full-duplex
// voice conversations between a human participant and an AI
// participant over one bidirectional byte connection.
//
// A Conversation wires a frame transport to the receive pipeline
// (codec, sequence tracking, jitter buffering, priority arbitration)
// and to the cross-stream synchronizer that detects barge-in. The
// speech and language models, the socket lifecycle, and all rendering
// live outside this module; the core consumes and emits framed binary
// packets and typed events.
//
// Receive path:
//
//	transport frame -> wire.Decode -> fragment reassembly ->
//	DualStreamProcessor (dedupe, gap tracking, jitter buffering,
//	priority arbitration) -> typed events
//
// Send path:
//
//	SendAudio/SendText/... -> sequence stamping -> wire.Encode
//	(fragmenting oversized packets) -> transport
//
// Subpackages: wire (packet model and binary codec), stream (receive
// machinery), transport (WebSocket and loopback frame transports),
// limits (centralized bounds), metrics (Prometheus collectors),
// config (TOML configuration for the command line tools).
package solacelive
