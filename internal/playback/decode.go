package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

const (
	CodecMP3 = "mp3"
	CodecWAV = "wav"
	CodecPCM = "pcm"

	// Raw pcm segments are s16le mono at this rate.
	PCMSampleRate = 16000
)

var (
	// ErrUnsupportedCodec is returned for a format hint no decoder handles.
	ErrUnsupportedCodec = errors.New("unsupported audio codec")
	// ErrEmptySegment is returned for a segment with no payload bytes.
	ErrEmptySegment = errors.New("empty audio segment")
)

// Codecs lists the accepted format hints.
var Codecs = []string{CodecMP3, CodecWAV, CodecPCM}

// NormalizeCodec lowercases a format hint and maps aliases onto Codecs.
// An empty hint becomes fallback.
func NormalizeCodec(codec string, fallback string) string {
	codec = strings.ToLower(strings.TrimSpace(codec))
	switch codec {
	case "":
		return fallback
	case "mpeg", "audio/mpeg", "audio/mp3":
		return CodecMP3
	case "wave", "audio/wav", "audio/x-wav":
		return CodecWAV
	case "s16le", "audio/pcm", "raw":
		return CodecPCM
	default:
		return codec
	}
}

// SupportedCodec reports whether codec is one of Codecs.
func SupportedCodec(codec string) bool {
	for _, c := range Codecs {
		if c == codec {
			return true
		}
	}
	return false
}

// Decoder materializes segments into clips by codec.
type Decoder struct {
	defaultCodec string
	recorder     Recorder
}

// NewDecoder builds the codec materializer. An unknown defaultCodec falls back to mp3.
func NewDecoder(defaultCodec string, recorder Recorder) *Decoder {
	defaultCodec = NormalizeCodec(defaultCodec, CodecMP3)
	if !SupportedCodec(defaultCodec) {
		defaultCodec = CodecMP3
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Decoder{defaultCodec: defaultCodec, recorder: recorder}
}

// Materialize decodes seg into a clip the caller must Release.
func (d *Decoder) Materialize(ctx context.Context, seg Segment) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(seg.Payload) == 0 {
		return nil, ErrEmptySegment
	}

	codec := NormalizeCodec(seg.Codec, d.defaultCodec)
	var (
		samples  []int16
		rate     int
		channels int
		err      error
	)
	switch codec {
	case CodecMP3:
		samples, rate, channels, err = decodeMP3(seg.Payload)
	case CodecWAV:
		samples, rate, channels, err = decodeWAV(seg.Payload)
	case CodecPCM:
		samples, err = decodePCM16(seg.Payload)
		rate, channels = PCMSampleRate, 1
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, seg.Codec)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s segment: %w", codec, err)
	}

	d.recorder.ClipMaterialized(codec)
	return NewClip(codec, rate, channels, samples, d.recorder.ClipReleased), nil
}

// decodeMP3 returns 16-bit stereo samples; go-mp3 always emits two channels.
func decodeMP3(payload []byte) ([]int16, int, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return nil, 0, 0, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, 0, err
	}
	samples, err := decodePCM16(raw)
	if err != nil {
		return nil, 0, 0, err
	}
	return samples, dec.SampleRate(), 2, nil
}

// decodeWAV reads a RIFF/WAVE container holding uncompressed PCM16.
func decodeWAV(payload []byte) ([]int16, int, int, error) {
	if len(payload) < 12 || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE payload")
	}

	var (
		haveFmt  bool
		channels int
		rate     int
	)
	rest := payload[12:]
	for len(rest) >= 8 {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if size > len(rest) {
			if id != "data" {
				return nil, 0, 0, fmt.Errorf("truncated %q chunk", id)
			}
			// Streaming encoders leave the data size unset; take what is there.
			size = len(rest)
		}
		body := rest[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported wav encoding (format=%d bits=%d)", format, bits)
			}
			if channels <= 0 || rate <= 0 {
				return nil, 0, 0, errors.New("invalid wav fmt chunk")
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, errors.New("wav data chunk before fmt chunk")
			}
			samples, err := decodePCM16(body)
			if err != nil {
				return nil, 0, 0, err
			}
			return samples, rate, channels, nil
		}

		if size%2 == 1 && size < len(rest) {
			size++
		}
		rest = rest[size:]
	}
	return nil, 0, 0, errors.New("wav payload has no data chunk")
}

func decodePCM16(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd pcm16 byte count %d", len(raw))
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}
