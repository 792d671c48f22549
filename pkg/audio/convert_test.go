package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/figuro/voice/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	return audio.Int16ToPCM16(samples)
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloat32ToPCM16(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5}))
	want := []int16{0, 32767, -32767, 32767, -32768, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"constant", []int16{1000, -1000, 1000, -1000}, 1000},
		{"mixed", []int16{3, 4}, math.Sqrt(12.5)},
	}
	for _, tc := range tests {
		if got := audio.RMS(samplesToBytes(tc.samples)); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: RMS = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 300, -32768, -32768, 32767, 32767})))
	want := []int16{200, -32768, 32767}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes(make([]int16, 4800))
	if got := len(audio.ResampleMono16(in, 48000, 16000)); got != 1600*2 {
		t.Errorf("48k→16k bytes = %d, want %d", got, 1600*2)
	}
	if got := audio.ResampleMono16(in, 16000, 16000); len(got) != len(in) {
		t.Error("equal rates should return the input")
	}

	ramp := samplesToBytes([]int16{0, 100, 200, 300})
	up := bytesToSamples(audio.ResampleMono16(ramp, 8000, 16000))
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	for i := range want {
		if up[i] != want[i] {
			t.Errorf("upsampled[%d] = %d, want %d", i, up[i], want[i])
		}
	}
}

func TestToSpeech(t *testing.T) {
	t.Parallel()

	stereo48k := samplesToBytes(make([]int16, 2*4800))
	out := audio.ToSpeech(stereo48k, audio.Format{SampleRate: 48000, Channels: 2})
	if len(out) != 1600*2 {
		t.Errorf("bytes = %d, want %d", len(out), 1600*2)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	f := audio.SpeechFormat
	if got := f.BytesPer(20 * time.Millisecond); got != 640 {
		t.Errorf("BytesPer(20ms) = %d, want 640", got)
	}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := (audio.Format{}).Duration(10); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}
