package runtime

import (
	"io"
	"strings"
	"testing"
)

func TestEOFReaderSignalsOnce(t *testing.T) {
	r := newEOFReader(strings.NewReader("layer"))

	select {
	case <-r.done:
		t.Fatal("done closed before EOF")
	default:
	}

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "layer" {
		t.Fatalf("data = %q, want layer", data)
	}

	// A second EOF must not close the channel again.
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("err = %v, want EOF", err)
	}

	select {
	case <-r.done:
	default:
		t.Fatal("done not closed after EOF")
	}
}
