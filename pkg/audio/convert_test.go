package audio_test

import (
	"testing"

	"github.com/MrWong99/tacradio/pkg/audio"
)

func TestRemixStereoToMonoAverages(t *testing.T) {
	t.Parallel()

	got := audio.Remix([][]float32{{0.5, -1}, {0.25, 1}}, 1)
	if len(got) != 1 {
		t.Fatalf("channels = %d, want 1", len(got))
	}
	want := []float32{0.375, 0}
	for i := range want {
		if got[0][i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, got[0][i], want[i])
		}
	}
}

func TestRemixMonoToStereoDuplicates(t *testing.T) {
	t.Parallel()

	src := []float32{0.1, 0.2}
	got := audio.Remix([][]float32{src}, 2)
	if len(got) != 2 {
		t.Fatalf("channels = %d, want 2", len(got))
	}
	for ch := range got {
		for i := range src {
			if got[ch][i] != src[i] {
				t.Errorf("ch %d frame %d = %v, want %v", ch, i, got[ch][i], src[i])
			}
		}
	}
	got[0][0] = 9
	if got[1][0] == 9 {
		t.Error("up-mixed channels share backing storage")
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []float32
		src, dst int
		want     []float32
	}{
		{"same rate is identity", []float32{1, 2, 3}, 16000, 16000, []float32{1, 2, 3}},
		{"downsample by two", []float32{0, 1, 2, 3}, 32000, 16000, []float32{0, 2}},
		{"upsample by two interpolates", []float32{0, 1}, 8000, 16000, []float32{0, 0.5, 1, 1}},
		{"invalid rate is passthrough", []float32{1}, 0, 16000, []float32{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Resample(tt.in, tt.src, tt.dst)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	t.Run("matching format is unchanged", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.CaptureFormat}
		buf := audio.NewBuffer(audio.CaptureFormat, 10)
		if got := conv.Convert(buf); got != buf {
			t.Fatal("Convert allocated for a matching format")
		}
	})

	t.Run("stereo 48k to capture format", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.CaptureFormat}
		buf := audio.NewBuffer(audio.Format{SampleRate: 48000, Channels: 2}, 4800)
		got := conv.Convert(buf)
		if got.Format() != audio.CaptureFormat {
			t.Fatalf("format = %v, want %v", got.Format(), audio.CaptureFormat)
		}
		if got.Frames() != 1600 {
			t.Fatalf("frames = %d, want 1600", got.Frames())
		}
	})
}

func TestFormatHelpers(t *testing.T) {
	t.Parallel()

	f := audio.PlaybackFormat
	if got := f.FrameDuration(7200).Seconds(); got != 0.3 {
		t.Errorf("FrameDuration(7200) = %vs, want 0.3s", got)
	}
	if got := f.Frames(f.FrameDuration(12000)); got != 12000 {
		t.Errorf("Frames(FrameDuration(12000)) = %d, want 12000", got)
	}
	if got := f.String(); got != "24000Hz mono" {
		t.Errorf("String() = %q", got)
	}
}
