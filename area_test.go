package sysprops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_area")
	a, err := CreateArea(path)
	if err != nil {
		t.Fatalf("CreateArea: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAreaAddFindRoundTrip(t *testing.T) {
	a := newTestArea(t)

	if err := a.Add("persist.sys.usb.config", "adb"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	off, err := a.Find("persist.sys.usb.config")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	ref, err := a.PropertyInfo(off)
	if err != nil {
		t.Fatalf("PropertyInfo: %v", err)
	}
	value, err := ref.InlineValue()
	if err != nil {
		t.Fatalf("InlineValue: %v", err)
	}
	if value != "adb" {
		t.Errorf("got %q, want %q", value, "adb")
	}
}

func TestAreaFindMissingIsNotFound(t *testing.T) {
	a := newTestArea(t)
	if _, err := a.Find("persist.sys.absent"); KindOf(err) != KindNotFound {
		t.Errorf("got error %v, want KindNotFound", err)
	}
}

func TestAreaAddDuplicateIsNoOp(t *testing.T) {
	a := newTestArea(t)
	if err := a.Add("ro.debuggable", "0"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.Add("ro.debuggable", "1"); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	off, err := a.Find("ro.debuggable")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	ref, _ := a.PropertyInfo(off)
	value, _ := ref.InlineValue()
	if value != "0" {
		t.Errorf("duplicate Add overwrote value: got %q, want %q", value, "0")
	}
}

func TestAreaAddEmptySegmentIsParseError(t *testing.T) {
	a := newTestArea(t)
	if err := a.Add("ro..bad", "x"); KindOf(err) != KindParse {
		t.Errorf("got error %v, want KindParse", err)
	}
	if err := a.Add("", "x"); KindOf(err) != KindParse {
		t.Errorf("got error %v, want KindParse", err)
	}
}

func TestAreaLongValueRequiresRoPrefix(t *testing.T) {
	a := newTestArea(t)
	long := strings.Repeat("x", 200)
	if err := a.Add("persist.sys.long", long); KindOf(err) != KindValidation {
		t.Fatalf("got error %v, want KindValidation for non-ro. long value", err)
	}
	if err := a.Add("ro.build.fingerprint", long); err != nil {
		t.Fatalf("Add ro. long value: %v", err)
	}
	off, err := a.Find("ro.build.fingerprint")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	ref, _ := a.PropertyInfo(off)
	isLong, err := ref.IsLong()
	if err != nil || !isLong {
		t.Fatalf("IsLong() = %v, %v; want true, nil", isLong, err)
	}
	value, err := ref.InlineValue()
	if err != nil || value != long {
		t.Fatalf("InlineValue() = %q, %v; want %q, nil", value, err, long)
	}
}

func TestAreaValueAtInlineBoundaryGoesLong(t *testing.T) {
	// The inline slot must also hold the NUL terminator, so a value of
	// exactly PropValueMax bytes cannot be stored inline.
	a := newTestArea(t)
	boundary := strings.Repeat("y", PropValueMax)
	if err := a.Add("ro.build.description", boundary); err != nil {
		t.Fatalf("Add: %v", err)
	}
	off, err := a.Find("ro.build.description")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	ref, _ := a.PropertyInfo(off)
	isLong, err := ref.IsLong()
	if err != nil || !isLong {
		t.Fatalf("IsLong() = %v, %v; want true, nil", isLong, err)
	}
	if value, _ := ref.InlineValue(); value != boundary {
		t.Errorf("got %d bytes, want %d", len(value), len(boundary))
	}
}

func TestAreaTrieTieBreakOrdering(t *testing.T) {
	a := newTestArea(t)
	names := []string{"zz", "a", "bb", "aaa", "z", "abc"}
	for i, n := range names {
		full := fmt.Sprintf("sib.%s", n)
		if err := a.Add(full, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("Add(%s): %v", full, err)
		}
	}
	for i, n := range names {
		full := fmt.Sprintf("sib.%s", n)
		off, err := a.Find(full)
		if err != nil {
			t.Fatalf("Find(%s): %v", full, err)
		}
		ref, _ := a.PropertyInfo(off)
		value, _ := ref.InlineValue()
		if value != fmt.Sprintf("v%d", i) {
			t.Errorf("Find(%s) = %q, want %q", full, value, fmt.Sprintf("v%d", i))
		}
	}
}

func TestOpenAreaRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_area")
	a, err := CreateArea(path)
	if err != nil {
		t.Fatalf("CreateArea: %v", err)
	}
	a.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteAt([]byte{0, 0, 0, 0}, HdrMagicIdx); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	if _, err := OpenAreaReadOnly(path); KindOf(err) != KindValidation {
		t.Errorf("got error %v, want KindValidation", err)
	}
}

func TestOpenAreaRejectsTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short_area")
	if err := os.WriteFile(path, make([]byte, HeaderSize-4), 0444); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenAreaReadOnly(path); KindOf(err) != KindValidation {
		t.Errorf("got error %v, want KindValidation", err)
	}
}

func TestAreaDirtyBackupArea(t *testing.T) {
	a := newTestArea(t)
	if err := a.SetDirtyBackupArea("previous"); err != nil {
		t.Fatalf("SetDirtyBackupArea: %v", err)
	}
	v, err := a.DirtyBackupArea()
	if err != nil || v != "previous" {
		t.Fatalf("DirtyBackupArea() = %q, %v; want %q, nil", v, err, "previous")
	}
}
