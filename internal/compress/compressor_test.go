package compress

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestNoopPassesThrough(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03}
	out, err := Noop().Decompress(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("got %x", out)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte("the quick brown fox")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := Gzip().Decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "the quick brown fox" {
		t.Errorf("got %q", out)
	}
}

func TestGzipRejectsGarbage(t *testing.T) {
	if _, err := Gzip().Decompress([]byte("not gzip")); err == nil {
		t.Fatal("expected error")
	}
}

func TestZstdRejectsInvalidDictionary(t *testing.T) {
	if _, err := NewZstdWithDict([]byte("not a dictionary")); err == nil {
		t.Fatal("expected error for invalid dictionary")
	}
}
