package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the fixed size of the RIFF/WAVE PCM header in bytes.
const WAVHeaderSize = 44

// pcmFormatTag is the RIFF format code for linear PCM.
const pcmFormatTag = 1

// Format describes the sample layout of a framed fragment.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// FrameWAV wraps raw PCM sample bytes in a self-describing RIFF/WAVE
// container. Every fragment leaving the delivery queue is framed this way so
// no side channel has to carry format metadata downstream.
//
// Layout: "RIFF" | total-8 | "WAVE" | "fmt " | 16 | format | channels |
// sample rate | byte rate | block align | bit depth | "data" | payload len |
// payload. All integers little-endian.
func FrameWAV(samples []byte, sampleRate, channels, bitDepth int) []byte {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	frame := make([]byte, WAVHeaderSize+len(samples))

	copy(frame[0:4], "RIFF")
	binary.LittleEndian.PutUint32(frame[4:8], uint32(WAVHeaderSize+len(samples)-8))
	copy(frame[8:12], "WAVE")

	copy(frame[12:16], "fmt ")
	binary.LittleEndian.PutUint32(frame[16:20], 16)
	binary.LittleEndian.PutUint16(frame[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(frame[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(frame[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(frame[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(frame[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(frame[34:36], uint16(bitDepth))

	copy(frame[36:40], "data")
	binary.LittleEndian.PutUint32(frame[40:44], uint32(len(samples)))
	copy(frame[WAVHeaderSize:], samples)

	return frame
}

// DecodeWAVHeader parses the header of a framed fragment and returns the
// sample format and payload length. It rejects frames that are not linear
// PCM or whose declared payload length disagrees with the frame size.
func DecodeWAVHeader(frame []byte) (Format, int, error) {
	if len(frame) < WAVHeaderSize {
		return Format{}, 0, fmt.Errorf("frame too short: %d bytes, need at least %d", len(frame), WAVHeaderSize)
	}

	if string(frame[0:4]) != "RIFF" {
		return Format{}, 0, fmt.Errorf("missing RIFF tag")
	}
	if string(frame[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("missing WAVE tag")
	}
	if string(frame[12:16]) != "fmt " {
		return Format{}, 0, fmt.Errorf("missing fmt subchunk")
	}
	if string(frame[36:40]) != "data" {
		return Format{}, 0, fmt.Errorf("missing data subchunk")
	}

	if formatTag := binary.LittleEndian.Uint16(frame[20:22]); formatTag != pcmFormatTag {
		return Format{}, 0, fmt.Errorf("unsupported format code %d, want %d (linear PCM)", formatTag, pcmFormatTag)
	}

	payloadLen := int(binary.LittleEndian.Uint32(frame[40:44]))
	if payloadLen != len(frame)-WAVHeaderSize {
		return Format{}, 0, fmt.Errorf("payload length %d disagrees with frame size %d", payloadLen, len(frame)-WAVHeaderSize)
	}

	format := Format{
		SampleRate: int(binary.LittleEndian.Uint32(frame[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(frame[22:24])),
		BitDepth:   int(binary.LittleEndian.Uint16(frame[34:36])),
	}

	return format, payloadLen, nil
}
