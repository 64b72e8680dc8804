package utsc

import (
	"encoding/binary"
	"errors"
	"testing"
)

func spectrumFile(values ...int16) []byte {
	b := make([]byte, SpectrumHeaderLen+len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(b[SpectrumHeaderLen+i*2:], uint16(v))
	}
	return b
}

func TestParseSpectrumFile(t *testing.T) {
	t.Parallel()

	data := append(spectrumFile(-123, 0, 457), 0xAA, 0xBB) // trailing bytes ignored
	got, err := ParseSpectrumFile(data, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-12.3, 0, 45.7}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bin %d = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := ParseSpectrumFile(spectrumFile(1, 2), 3); !errors.Is(err, ErrShortFile) {
		t.Errorf("short file err = %v", err)
	}
	if _, err := ParseSpectrumFile(data, 0); err == nil {
		t.Error("zero bins should fail")
	}
}

func TestParseRxMERFile(t *testing.T) {
	t.Parallel()

	data := make([]byte, RxMERHeaderLen)
	data = append(data, 160, 0xFF, 168, 152)
	got, err := ParseRxMERFile(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Values) != 3 || got.Values[0] != 40 || got.Min != 38 || got.Max != 42 || got.Average != 40 {
		t.Errorf("rxmer = %+v", got)
	}

	if _, err := ParseRxMERFile(make([]byte, 10)); !errors.Is(err, ErrShortFile) {
		t.Errorf("short file err = %v", err)
	}
}
