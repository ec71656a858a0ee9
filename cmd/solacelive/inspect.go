package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// inspectCmd decodes one captured packet frame and prints its header,
// metadata and payload in a readable form.
func inspectCmd() *cobra.Command {
	var hexInput bool

	cmd := &cobra.Command{
		Use:   "inspect <frame-file>",
		Short: "Decode and print a captured packet frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], hexInput)
		},
	}
	cmd.Flags().BoolVar(&hexInput, "hex", false, "treat the file as hex text instead of raw bytes")
	return cmd
}

func runInspect(path string, hexInput bool) error {
	frame, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if hexInput {
		cleaned := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
				return -1
			}
			return r
		}, string(frame))
		frame, err = hex.DecodeString(cleaned)
		if err != nil {
			return fmt.Errorf("decode hex input: %w", err)
		}
	}

	packet, err := wire.Decode(frame)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	data := pterm.TableData{
		{"Field", "Value"},
		{"version", fmt.Sprintf("%d", packet.Version)},
		{"type", fmt.Sprintf("0x%02X (%s)", uint8(packet.Type), packet.Type.Class())},
		{"stream", fmt.Sprintf("%d (%s)", uint16(packet.StreamID), packet.StreamID)},
		{"sequence", fmt.Sprintf("%d", packet.SequenceNumber)},
		{"timestamp", fmt.Sprintf("%d µs", packet.Timestamp)},
		{"flags", formatFlags(packet.Flags)},
		{"checksum", formatChecksum(packet.Checksum)},
		{"priority", packet.EffectivePriority().String()},
	}
	if packet.Metadata != nil {
		data = append(data, []string{"ttl", fmt.Sprintf("%d ms", packet.Metadata.TTLMs)})
		data = append(data, []string{"retries", fmt.Sprintf("%d", packet.Metadata.RetryCount)})
		if frag := packet.Metadata.Fragment; frag != nil {
			data = append(data, []string{"fragment",
				fmt.Sprintf("%d/%d of %d bytes", frag.FragmentID+1, frag.TotalFragments, frag.OriginalLength)})
		}
	}
	data = append(data, []string{"payload", describePayload(packet.Payload)})

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatFlags(f wire.Flags) string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		bit  wire.Flags
		name string
	}{
		{wire.FlagEncrypted, "ENCRYPTED"},
		{wire.FlagCompressed, "COMPRESSED"},
		{wire.FlagFragmented, "FRAGMENTED"},
		{wire.FlagRequiresAck, "REQUIRES_ACK"},
		{wire.FlagRetransmitted, "RETRANSMITTED"},
		{wire.FlagFinalFragment, "FINAL_FRAGMENT"},
		{wire.FlagPriorityOverride, "PRIORITY_OVERRIDE"},
		{wire.FlagTimestampSync, "TIMESTAMP_SYNC"},
	}
	var set []string
	for _, n := range names {
		if f.Has(n.bit) {
			set = append(set, n.name)
		}
	}
	return fmt.Sprintf("0x%04X (%s)", uint16(f), strings.Join(set, "|"))
}

func formatChecksum(sum uint32) string {
	if sum == 0 {
		return "absent"
	}
	return fmt.Sprintf("0x%08X", sum)
}

func describePayload(p wire.Payload) string {
	switch v := p.(type) {
	case *wire.AudioPayload:
		return fmt.Sprintf("audio %s %dHz ch=%d samples=%d (%d bytes)",
			v.Meta.Codec, v.Meta.SampleRate, v.Meta.Channels, v.Meta.Samples, len(v.Samples))
	case *wire.TextPayload:
		return fmt.Sprintf("text final=%v %q", v.Final, v.Text)
	case *wire.SemanticPayload:
		return fmt.Sprintf("semantic state=%q confidence=%.2f ttsActive=%v", v.State, v.Confidence, v.TTSActive)
	case *wire.ResponsePayload:
		return fmt.Sprintf("response id=%s index=%d chunk=%q", v.ID, v.Index, v.Chunk)
	case *wire.StreamControlPayload:
		return fmt.Sprintf("streamControl stream=%s action=%s", v.Stream, v.Action)
	case *wire.HeartbeatPayload:
		return fmt.Sprintf("heartbeat sentAt=%d", v.SentAt)
	case *wire.AckPayload:
		return fmt.Sprintf("ack stream=%s seq=%d", v.Stream, v.AckedSequence)
	case *wire.RetransmitPayload:
		return fmt.Sprintf("retransmit stream=%s missing=%v", v.Stream, v.Missing)
	case *wire.TimestampSyncPayload:
		return fmt.Sprintf("timestampSync origin=%d receive=%d transmit=%d", v.Origin, v.Receive, v.Transmit)
	case wire.Opaque:
		return fmt.Sprintf("opaque %d bytes", len(v))
	default:
		return fmt.Sprintf("%T", p)
	}
}
