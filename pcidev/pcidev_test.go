package pcidev

import "testing"

func TestOpen_RejectsMalformedAddress(t *testing.T) {
	cases := []string{
		"",
		"0000:03:00",
		"0000-03-00.0",
		"0000:03:00.0x",
	}
	for _, addr := range cases {
		if _, err := Open(addr); err == nil {
			t.Errorf("Open(%q) = nil error, want an error for a malformed address", addr)
		}
	}
}

func TestOpen_UnknownDevice(t *testing.T) {
	// A syntactically valid address that (almost certainly) does not exist on
	// the test machine still fails, just further along, at the sysfs lookup.
	if _, err := Open("ffff:ff:1f.7"); err == nil {
		t.Error("Open on a nonexistent PCI address succeeded, want an error")
	}
}
