// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package script

import (
	"fmt"
	"os"

	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// maxScriptBytes caps the size of a script loaded through script_path.
const maxScriptBytes = 256 * 1024

// readScriptFile loads a script body from a validator-resolved path,
// rejecting files larger than maxScriptBytes.
func readScriptFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(b) > maxScriptBytes {
		return "", fmt.Errorf("script file is %d bytes, over the %d-byte limit", len(b), maxScriptBytes)
	}
	return string(b), nil
}

// packetToJS marshals pkt the way §4.6 specifies: full payload for
// Text/Transcription/Custom, metadata-only for Audio/Binary so samples and
// binary bytes are never copied into the JS heap.
func packetToJS(pkt types.Packet) map[string]interface{} {
	obj := map[string]interface{}{"kind": pkt.Kind.String()}
	switch pkt.Kind {
	case types.KindText:
		obj["text"] = pkt.Text
	case types.KindTranscription:
		if pkt.Transcription != nil {
			obj["text"] = pkt.Transcription.Text
			obj["language"] = pkt.Transcription.Language
			segments := make([]map[string]interface{}, len(pkt.Transcription.Segments))
			for i, s := range pkt.Transcription.Segments {
				segments[i] = map[string]interface{}{
					"text": s.Text, "start_ms": s.StartMs, "end_ms": s.EndMs, "confidence": s.Confidence,
				}
			}
			obj["segments"] = segments
		}
	case types.KindCustom:
		if pkt.Custom != nil {
			obj["type_id"] = pkt.Custom.TypeID
			obj["encoding"] = pkt.Custom.Encoding
			obj["data"] = string(pkt.Custom.Data)
		}
	case types.KindAudio:
		obj["sample_rate"] = pkt.Audio.SampleRate
		obj["channels"] = pkt.Audio.Channels
		obj["sample_count"] = len(pkt.Audio.Samples())
	case types.KindBinary:
		if pkt.Binary != nil {
			obj["content_type"] = pkt.Binary.ContentType
			obj["byte_length"] = len(pkt.Binary.Data)
		}
	}
	return obj
}

// jsToPacket unmarshals a JS-returned value back into a Packet. Audio and
// Binary payloads are not accepted from script results (script only ever
// sees their metadata, per packetToJS) — a result whose kind is Audio or
// Binary passes the original packet through unchanged (a null result drops
// it instead).
func jsToPacket(original types.Packet, v interface{}) (types.Packet, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return types.Packet{}, fmt.Errorf("process() must return an object, null, or undefined")
	}

	kind := original.Kind
	if k, ok := m["kind"].(string); ok {
		kind = kindFromString(k)
	}

	switch kind {
	case types.KindText:
		text, _ := m["text"].(string)
		return types.NewTextPacket(text), nil
	case types.KindCustom:
		typeID, _ := m["type_id"].(string)
		data, _ := m["data"].(string)
		return types.NewCustomPacket(&types.CustomPacketData{TypeID: typeID, Encoding: "json", Data: []byte(data)}), nil
	case types.KindTranscription:
		text, _ := m["text"].(string)
		return types.NewTranscriptionPacket(&types.TranscriptionData{Text: text}), nil
	case types.KindAudio, types.KindBinary:
		// Scripts never receive sample/byte payloads, so they can't
		// legitimately rebuild these — pass the original through instead.
		return original, nil
	default:
		return types.Packet{}, fmt.Errorf("unknown packet kind in process() result")
	}
}

func kindFromString(s string) types.PacketKind {
	switch s {
	case "Text":
		return types.KindText
	case "Transcription":
		return types.KindTranscription
	case "Binary":
		return types.KindBinary
	case "Custom":
		return types.KindCustom
	default:
		return types.KindAudio
	}
}
