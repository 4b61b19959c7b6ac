// Package wchproto implements the probe USB framing layer (spec §4.B):
// encoding (cmd, subcmd, payload) triples into request frames, and
// decoding probe responses into a (cmd, payload) result or a
// classified protocol error.
package wchproto

import (
	"github.com/guiperry/wlink/internal/wlinkerr"
)

// Header bytes, spec §6.
const (
	HeaderRequest    = 0x81 // also used as the error-response header
	HeaderOkResponse = 0x82
)

// MaxPayload is the largest payload a single frame can carry (spec §3:
// "length ≤ 253").
const MaxPayload = 253

// Frame is the wire-level request/response unit of spec §3.
type Frame struct {
	Header  byte
	Cmd     byte
	Payload []byte
}

// Encode builds a request frame for (cmd, subcmd, payload). When
// hasSubcmd is true, subcmd is prepended to payload before the combined
// buffer is length-prefixed — callers that issue a command with no
// subcommand (plain memory/DMI frames) pass hasSubcmd=false.
func Encode(cmd byte, hasSubcmd bool, subcmd byte, payload []byte) ([]byte, error) {
	var effective []byte
	if hasSubcmd {
		effective = make([]byte, 0, len(payload)+1)
		effective = append(effective, subcmd)
		effective = append(effective, payload...)
	} else {
		effective = payload
	}

	if len(effective) > MaxPayload {
		return nil, wlinkerr.FrameMalformedErr("payload exceeds maximum frame length")
	}

	out := make([]byte, 0, 3+len(effective))
	out = append(out, HeaderRequest, cmd, byte(len(effective)))
	out = append(out, effective...)
	return out, nil
}

// EncodeFrame is a convenience wrapper for commands that take no
// subcommand byte.
func EncodeFrame(cmd byte, payload []byte) ([]byte, error) {
	return Encode(cmd, false, 0, payload)
}

// EncodeSub is a convenience wrapper for commands that take a
// subcommand byte.
func EncodeSub(cmd, subcmd byte, payload []byte) ([]byte, error) {
	return Encode(cmd, true, subcmd, payload)
}

// Decode parses a response frame per spec §4.B:
//   - header 0x82 → success, cmd and payload returned. The response's cmd
//     is returned in Frame.Cmd and is not compared with the request's cmd.
//   - header 0x81, first byte after header is a reason code → ProbeRefused.
//   - length field disagreeing with the bytes actually present → FrameMalformed.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < 2 {
		return nil, wlinkerr.FrameMalformedErr("frame shorter than header")
	}

	header := raw[0]
	switch header {
	case HeaderOkResponse:
		if len(raw) < 3 {
			return nil, wlinkerr.FrameMalformedErr("ok response missing length byte")
		}
		cmd := raw[1]
		length := int(raw[2])
		payload := raw[3:]
		if len(payload) != length {
			return nil, wlinkerr.FrameMalformedErr("declared length does not match payload size")
		}
		return &Frame{Header: header, Cmd: cmd, Payload: payload}, nil

	case HeaderRequest:
		reason := raw[1]
		return nil, wlinkerr.ProbeRefusedErr(reason)

	default:
		return nil, wlinkerr.FrameMalformedErr("unrecognized response header")
	}
}
