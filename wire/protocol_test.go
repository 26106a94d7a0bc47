package wire

import "testing"

func TestValidateNameAcceptsWellFormed(t *testing.T) {
	names := []string{"ro.build.version.sdk", "persist.sys.usb.config", "a", "sys.powerctl"}
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", n, err)
		}
	}
}

func TestValidateNameRejectsBadChars(t *testing.T) {
	names := []string{"", "has space", "has\x00nul", "has/slash"}
	for _, n := range names {
		if err := ValidateName(n); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", n)
		}
	}
}

func TestValidateNameRejectsOverLength(t *testing.T) {
	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateName(string(long)); err == nil {
		t.Error("expected error for over-length name")
	}
}

func TestV1FramePoolZeroesBuffer(t *testing.T) {
	buf := getV1Frame()
	for i := range *buf {
		(*buf)[i] = 0xFF
	}
	putV1Frame(buf)

	buf2 := getV1Frame()
	defer putV1Frame(buf2)
	for i, b := range *buf2 {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %v", i, b)
		}
	}
}
