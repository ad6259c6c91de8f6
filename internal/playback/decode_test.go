package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	materialized []string
	released     int
	done         []string
}

func (r *countingRecorder) ClipMaterialized(codec string) {
	r.materialized = append(r.materialized, codec)
}
func (r *countingRecorder) ClipReleased()              { r.released++ }
func (r *countingRecorder) SegmentDone(outcome string) { r.done = append(r.done, outcome) }

func pcmBytes(samples ...int16) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

func wavBytes(t *testing.T, rate int, channels int, samples ...int16) []byte {
	t.Helper()
	pcm := pcmBytes(samples...)
	var buf bytes.Buffer
	w := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	buf.WriteString("RIFF")
	w(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1))
	w(uint16(channels))
	w(uint32(rate))
	w(uint32(rate * channels * 2))
	w(uint16(channels * 2))
	w(uint16(16))
	buf.WriteString("data")
	w(uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestDecoderPCM(t *testing.T) {
	rec := &countingRecorder{}
	d := NewDecoder(CodecMP3, rec)

	clip, err := d.Materialize(context.Background(), Segment{Payload: pcmBytes(1, -2, 300), Codec: "PCM"})
	require.NoError(t, err)
	require.Equal(t, CodecPCM, clip.Codec)
	require.Equal(t, PCMSampleRate, clip.SampleRate)
	require.Equal(t, 1, clip.Channels)
	require.Equal(t, []int16{1, -2, 300}, clip.Samples)
	require.Equal(t, []string{CodecPCM}, rec.materialized)

	clip.Release()
	clip.Release()
	require.Equal(t, 1, rec.released)
}

func TestDecoderWAV(t *testing.T) {
	d := NewDecoder("", nil)

	clip, err := d.Materialize(context.Background(), Segment{Payload: wavBytes(t, 22050, 2, 10, 20, 30, 40), Codec: "wav"})
	require.NoError(t, err)
	require.Equal(t, 22050, clip.SampleRate)
	require.Equal(t, 2, clip.Channels)
	require.Equal(t, []int16{10, 20, 30, 40}, clip.Samples)
}

func TestDecoderDefaultCodecAppliesToEmptyHint(t *testing.T) {
	d := NewDecoder("wav", nil)

	clip, err := d.Materialize(context.Background(), Segment{Payload: wavBytes(t, 16000, 1, 5)})
	require.NoError(t, err)
	require.Equal(t, CodecWAV, clip.Codec)
}

func TestDecoderRejectsBadSegments(t *testing.T) {
	d := NewDecoder(CodecMP3, nil)
	ctx := context.Background()

	_, err := d.Materialize(ctx, Segment{Codec: CodecPCM})
	require.ErrorIs(t, err, ErrEmptySegment)

	_, err = d.Materialize(ctx, Segment{Payload: []byte{1, 2}, Codec: "ogg"})
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = d.Materialize(ctx, Segment{Payload: []byte{1, 2, 3}, Codec: CodecPCM})
	require.Error(t, err)

	_, err = d.Materialize(ctx, Segment{Payload: []byte("RIFF0000AVI "), Codec: CodecWAV})
	require.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.Materialize(cancelled, Segment{Payload: pcmBytes(1), Codec: CodecPCM})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeCodec(t *testing.T) {
	require.Equal(t, CodecMP3, NormalizeCodec("", CodecMP3))
	require.Equal(t, CodecMP3, NormalizeCodec(" audio/MPEG ", CodecWAV))
	require.Equal(t, CodecWAV, NormalizeCodec("WAVE", CodecMP3))
	require.Equal(t, CodecPCM, NormalizeCodec("s16le", CodecMP3))
	require.Equal(t, "flac", NormalizeCodec("FLAC", CodecMP3))
	require.True(t, SupportedCodec(CodecPCM))
	require.False(t, SupportedCodec("flac"))
}
