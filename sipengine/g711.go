// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"github.com/zaf/g711"
)

// encodePCM encodes 16 bit little endian linear PCM into codec payload
func encodePCM(codec Codec, lpcm []byte) []byte {
	out := make([]byte, len(lpcm)/2)
	for i, j := 0, 0; j <= len(lpcm)-2; i, j = i+1, j+2 {
		sample := int16(lpcm[j]) | int16(lpcm[j+1])<<8
		if codec.PayloadType == CodecAlaw.PayloadType {
			out[i] = g711.EncodeAlawFrame(sample)
			continue
		}
		out[i] = g711.EncodeUlawFrame(sample)
	}
	return out
}

// decodePCM decodes codec payload into 16 bit little endian linear PCM
func decodePCM(codec Codec, payload []byte) []byte {
	lpcm := make([]byte, len(payload)*2)
	for i, j := 0, 0; i < len(payload); i, j = i+1, j+2 {
		var frame int16
		if codec.PayloadType == CodecAlaw.PayloadType {
			frame = g711.DecodeAlawFrame(payload[i])
		} else {
			frame = g711.DecodeUlawFrame(payload[i])
		}
		lpcm[j] = byte(frame)
		lpcm[j+1] = byte(frame >> 8)
	}
	return lpcm
}

func transcode(src Codec, dst Codec, payload []byte) []byte {
	if src.PayloadType == dst.PayloadType {
		return payload
	}
	if src.PayloadType == CodecUlaw.PayloadType {
		return g711.Ulaw2Alaw(payload)
	}
	return g711.Alaw2Ulaw(payload)
}
