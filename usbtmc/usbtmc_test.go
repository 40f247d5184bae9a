package usbtmc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInvbTag(t *testing.T) {
	if invbTag(0x01) != 0xfe {
		t.Errorf("expected 0xfe, got %#x", invbTag(0x01))
	}
}

func TestBTagSkipsZero(t *testing.T) {
	var tags bTagger
	tags.value = 254
	got := []byte{tags.next(), tags.next(), tags.next()}
	if diff := cmp.Diff([]byte{255, 1, 2}, got); diff != "" {
		t.Errorf("bTag sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestEncBulkOutHeader(t *testing.T) {
	got := encBulkOutHeader(7, 9)
	want := [12]byte{0x01, 7, 0xf8, 0, 9, 0, 0, 0, 0x01, 0, 0, 0}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEncBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	got := encBulkInHeader(3, 1500, &term)
	want := [12]byte{0x02, 3, 0xfc, 0, 0xdc, 0x05, 0, 0, 0x02, '\n', 0, 0}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
	got = encBulkInHeader(3, 1500, nil)
	if got[8] != 0 || got[9] != 0 {
		t.Errorf("expected term char disabled, got %v", got)
	}
}

func TestPadAligns(t *testing.T) {
	for n := 12; n < 20; n++ {
		if l := len(pad(make([]byte, n))); l%4 != 0 || l < n || l-n > 3 {
			t.Errorf("pad(%d) gave length %d", n, l)
		}
	}
}

func TestDecBulkIn(t *testing.T) {
	buf := []byte{0x02, 5, 0xfa, 0, 3, 0, 0, 0, 0x01, 0, 0, 0, 'O', 'K', '\n', 0}
	data, err := decBulkIn(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "OK\n" {
		t.Errorf("expected alignment padding to be dropped, got %q", data)
	}
	if _, err := decBulkIn(buf[:8]); err != ErrShortHeader {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
	buf[2] = 0
	if _, err := decBulkIn(buf); err == nil {
		t.Error("expected a bTag mismatch error")
	}
}
