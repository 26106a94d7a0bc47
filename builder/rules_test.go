package builder

import (
	"os"
	"testing"
)

func TestParseLineExactMatch(t *testing.T) {
	r, err := ParseLine("ro.build.version.sdk u:object_r:build_prop:s0 exact int", true)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if r.Name != "ro.build.version.sdk" || r.Context != "u:object_r:build_prop:s0" || r.Type != "int" || !r.Exact {
		t.Errorf("got %+v", r)
	}
}

func TestParseLinePrefixMatch(t *testing.T) {
	r, err := ParseLine("persist.sys. u:object_r:system_prop:s0 prefix string", true)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if r.Exact {
		t.Errorf("Exact = true, want false")
	}
	if r.Type != "string" {
		t.Errorf("Type = %q, want %q", r.Type, "string")
	}
}

func TestParseLineEnumType(t *testing.T) {
	r, err := ParseLine("ro.boot.mode u:object_r:boot_prop:s0 exact enum normal recovery", true)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if r.Type != "enum normal recovery" {
		t.Errorf("Type = %q", r.Type)
	}
}

func TestParseLineRejectsUnknownMatchWhenRequired(t *testing.T) {
	if _, err := ParseLine("ro.foo u:object_r:default_prop:s0 string", true); err == nil {
		t.Fatal("expected error for missing prefix/exact when required")
	}
}

func TestParseLineNoMatchTokenFoldsIntoType(t *testing.T) {
	r, err := ParseLine("ro.foo u:object_r:default_prop:s0 string", false)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if r.Type != "string" {
		t.Errorf("Type = %q, want %q", r.Type, "string")
	}
	if r.Exact {
		t.Errorf("Exact = true, want false")
	}
}

func TestParseLineRejectsInvalidType(t *testing.T) {
	if _, err := ParseLine("ro.foo u:object_r:default_prop:s0 exact notatype", true); err == nil {
		t.Fatal("expected error for invalid type")
	}
}

func TestParseLineMissingContextIsError(t *testing.T) {
	if _, err := ParseLine("ro.foo", true); err == nil {
		t.Fatal("expected error for missing context field")
	}
}

func TestParseLineNameAndContextOnly(t *testing.T) {
	r, err := ParseLine("ro.foo u:object_r:default_prop:s0", false)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if r.Context != "u:object_r:default_prop:s0" || r.Type != "" {
		t.Errorf("got %+v", r)
	}
}

func TestParseFileSkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/context_rules"
	content := "# a comment\n\nro.foo u:object_r:default_prop:s0 exact string\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rules, errs, err := ParseFile(path, true)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("unexpected parse errors: %v", errs)
	}
	if len(rules) != 1 || rules[0].Name != "ro.foo" {
		t.Errorf("got %+v", rules)
	}
}

func TestParseFileCollectsPerLineErrors(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/context_rules"
	content := "ro.good u:object_r:default_prop:s0 exact string\nro.bad\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rules, errs, err := ParseFile(path, true)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("got %d rules, want 1", len(rules))
	}
	if len(errs) != 1 {
		t.Errorf("got %d errors, want 1", len(errs))
	}
}
