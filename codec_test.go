package invertix

import (
	"errors"
	"testing"
)

func TestGammaRoundTrip(t *testing.T) {
	values := []uint64{1, 2, 3, 4, 7, 8, 15, 16, 255, 256, 1 << 20, 1<<32 - 1}

	w := NewBitWriter()
	for _, v := range values {
		if err := w.WriteGamma(v); err != nil {
			t.Fatalf("WriteGamma(%d): %v", v, err)
		}
	}

	r := NewBitReader(w.Bytes())
	for _, want := range values {
		got, err := r.ReadGamma()
		if err != nil {
			t.Fatalf("ReadGamma: %v", err)
		}
		if got != want {
			t.Errorf("ReadGamma() = %d, want %d", got, want)
		}
	}
}

func TestWriteGammaRejectsZero(t *testing.T) {
	w := NewBitWriter()
	if err := w.WriteGamma(0); !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("WriteGamma(0) error = %v, want ErrMalformedStream", err)
	}
}

func TestUnaryRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 5, 100} {
		w := NewBitWriter()
		w.WriteUnary(n)
		r := NewBitReader(w.Bytes())
		got, err := r.ReadUnary()
		if err != nil {
			t.Fatalf("ReadUnary: %v", err)
		}
		if got != n {
			t.Errorf("ReadUnary() = %d, want %d", got, n)
		}
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	w := NewBitWriter()
	w.WriteBinary(5, 0b10110)
	w.WriteBinary(3, 0b101)
	r := NewBitReader(w.Bytes())

	got, err := r.ReadBinary(5)
	if err != nil || got != 0b10110 {
		t.Fatalf("ReadBinary(5) = (%d, %v), want (0b10110, nil)", got, err)
	}
	got, err = r.ReadBinary(3)
	if err != nil || got != 0b101 {
		t.Fatalf("ReadBinary(3) = (%d, %v), want (0b101, nil)", got, err)
	}
}

func TestPadAlignsToByteBoundary(t *testing.T) {
	w := NewBitWriter()
	w.WriteBinary(3, 0b101)
	w.Pad()
	byteOff, bitOff := w.Position()
	if byteOff != 1 || bitOff != 0 {
		t.Fatalf("Position after Pad() = (%d, %d), want (1, 0)", byteOff, bitOff)
	}
}

func TestReadPastEndFails(t *testing.T) {
	r := NewBitReader(nil)
	if _, err := r.ReadBinary(1); !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("ReadBinary on empty stream error = %v, want ErrMalformedStream", err)
	}
}

func TestUnterminatedUnaryFails(t *testing.T) {
	w := NewBitWriter()
	w.writeBit(0)
	w.writeBit(0)
	r := NewBitReader(w.Bytes())
	if _, err := r.ReadUnary(); !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("ReadUnary over unterminated prefix error = %v, want ErrMalformedStream", err)
	}
}

func TestNewBitReaderAtPreservesPositionBookkeeping(t *testing.T) {
	w := NewBitWriter()
	_ = w.WriteGamma(1) // occupies bit 0..0 within byte 0
	_ = w.WriteGamma(7) // five more bits, bits 1..5, still within byte 0
	byteOff, bitOff := w.Position()

	r := NewBitReaderAt(w.Bytes(), 0, 0)
	if _, err := r.ReadGamma(); err != nil {
		t.Fatalf("ReadGamma: %v", err)
	}
	if _, err := r.ReadGamma(); err != nil {
		t.Fatalf("ReadGamma: %v", err)
	}
	gotByte, gotBit := r.Position()
	if gotByte != byteOff || gotBit != bitOff {
		t.Fatalf("Position() = (%d, %d), want (%d, %d)", gotByte, gotBit, byteOff, bitOff)
	}
}

func TestGammaBiasRoundTrip(t *testing.T) {
	for n := uint32(0); n < 8; n++ {
		if got := unbiasGamma(gammaBias(n)); got != n {
			t.Errorf("unbiasGamma(gammaBias(%d)) = %d, want %d", n, got, n)
		}
	}
}
