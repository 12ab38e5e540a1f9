package device

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func TestComplexFromCS8(t *testing.T) {
	data := []byte{127, 0, 0, 0x80, 0xc0, 64}
	want := []complex64{complex(127.0/128, 0), complex(0, -1), complex(-0.5, 0.5)}

	got := ComplexFromCS8(data, 2e6, 915e6)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !scalar.EqualWithinAbs(float64(real(got[i])), float64(real(want[i])), 1e-6) ||
			!scalar.EqualWithinAbs(float64(imag(got[i])), float64(imag(want[i])), 1e-6) {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestValidateCapture(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
		numSamples int
		wantErr    bool
	}{
		{"valid", 2e6, 1024, false},
		{"zero samples", 2e6, 0, true},
		{"negative samples", 2e6, -1, true},
		{"zero rate", 0, 1024, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCapture(tt.sampleRate, tt.numSamples)
			if tt.wantErr != errors.Is(err, ErrConfig) {
				t.Errorf("ValidateCapture() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
