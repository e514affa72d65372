// Package pcm converts between float samples, 16-bit little-endian PCM and
// the text encoding used on the live streaming channel.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"mime"
	"strconv"

	"livechat/internal/domain"
)

// ErrMalformedAudio is returned for PCM payloads that cannot be decoded.
var ErrMalformedAudio = errors.New("malformed pcm audio")

const scale = 32768

// FloatToInt16Bytes scales samples by 32768 and truncates them to 16-bit
// little-endian integers. Samples outside [-1, 1] wrap modulo 2^16 instead of
// clamping. NaN and infinities encode as silence.
func FloatToInt16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(wrapInt16(sample)))
	}
	return out
}

func wrapInt16(sample float32) int16 {
	v := math.Trunc(float64(sample) * scale)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	// Mod is exact for integral values and keeps v inside int32 range.
	return int16(int32(math.Mod(v, 1<<16)))
}

// BytesToFloat decodes interleaved 16-bit little-endian PCM into one sample
// slice per channel.
func BytesToFloat(data []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		channels = 1
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedAudio, len(data))
	}
	samples := len(data) / 2
	if samples%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples do not divide into %d channels", ErrMalformedAudio, samples, channels)
	}

	frames := samples / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (i*channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(data[offset:]))
			out[ch][i] = float32(v) / scale
		}
	}
	return out, nil
}

// EncodeText encodes binary audio for a text-framed channel.
func EncodeText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeText reverses EncodeText.
func DecodeText(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return data, nil
}

// MIMEType returns the descriptor for raw PCM at the given rate.
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the sample rate from a PCM mime descriptor.
func ParseRate(mimeType string, fallback int) int {
	if mimeType == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// NewBlob encodes one captured mono frame for the wire.
func NewBlob(samples []float32, rate int) domain.WireBlob {
	return domain.WireBlob{
		Data:     EncodeText(FloatToInt16Bytes(samples)),
		MIMEType: MIMEType(rate),
	}
}

// DecodeBlob turns an inbound blob into a playable mono buffer.
func DecodeBlob(blob domain.WireBlob, fallbackRate int) (domain.AudioBuffer, error) {
	data, err := DecodeText(blob.Data)
	if err != nil {
		return domain.AudioBuffer{}, err
	}
	if len(data) == 0 {
		return domain.AudioBuffer{}, fmt.Errorf("%w: empty payload", ErrMalformedAudio)
	}
	channels, err := BytesToFloat(data, 1)
	if err != nil {
		return domain.AudioBuffer{}, err
	}
	return domain.AudioBuffer{
		Samples:    channels[0],
		SampleRate: ParseRate(blob.MIMEType, fallbackRate),
	}, nil
}
