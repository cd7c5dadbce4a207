package ipv4

import (
	"errors"
	"testing"

	"github.com/annis-souames/cabernet/pkg/errs"
)

// buildHeader returns a minimal 20-byte IPv4 header with the given
// source/destination, version nibble, and total length field.
func buildHeader(version byte, totalLen int, src, dst [4]byte) []byte {
	b := make([]byte, MinHeaderLen)
	b[0] = version<<4 | 5 // IHL = 5 words = 20 bytes
	b[2] = byte(totalLen >> 8)
	b[3] = byte(totalLen)
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	return b
}

func TestParseHeaderExtractsDestination(t *testing.T) {
	b := buildHeader(4, MinHeaderLen, [4]byte{10, 0, 0, 4}, [4]byte{8, 8, 8, 8})
	h, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.DestinationAddr().String() != "8.8.8.8" {
		t.Fatalf("unexpected destination: %s", h.DestinationAddr())
	}
	if h.SourceAddr().String() != "10.0.0.4" {
		t.Fatalf("unexpected source: %s", h.SourceAddr())
	}
}

func TestParseHeaderRejectsShortFrame(t *testing.T) {
	_, err := ParseHeader([]byte{0x00})
	if err == nil {
		t.Fatalf("expected error for short frame")
	}
	var target *errs.Ipv4HeaderParse
	if !errors.As(err, &target) {
		t.Fatalf("expected Ipv4HeaderParse, got %T", err)
	}
}

func TestParseHeaderRejectsBadVersion(t *testing.T) {
	b := buildHeader(6, MinHeaderLen, [4]byte{10, 0, 0, 4}, [4]byte{10, 0, 0, 5})
	_, err := ParseHeader(b)
	if err == nil {
		t.Fatalf("expected error for non-IPv4 version field")
	}
}

func TestParseHeaderRejectsTruncatedTotalLength(t *testing.T) {
	b := buildHeader(4, MinHeaderLen+100, [4]byte{10, 0, 0, 4}, [4]byte{10, 0, 0, 5})
	_, err := ParseHeader(b)
	if err == nil {
		t.Fatalf("expected error when declared total length exceeds frame")
	}
}
