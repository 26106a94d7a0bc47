package builder

import "testing"

func TestAddToTrieExactAndPrefix(t *testing.T) {
	tr := NewTrie("u:object_r:default_prop:s0", "string")
	if err := tr.AddToTrie("ro.build.version.sdk", "u:object_r:build_prop:s0", "int", true); err != nil {
		t.Fatalf("AddToTrie exact: %v", err)
	}
	if err := tr.AddToTrie("persist.sys.locale", "u:object_r:system_prop:s0", "string", false); err != nil {
		t.Fatalf("AddToTrie prefix: %v", err)
	}

	build := tr.root.children["ro"].children["build"]
	if build == nil {
		t.Fatal("expected interior node 'build'")
	}
	version := build.children["version"]
	if version == nil {
		t.Fatal("expected interior node 'version'")
	}
	entry, ok := version.exact["sdk"]
	if !ok {
		t.Fatal("expected exact entry 'sdk' under build.version")
	}
	if entry.context != "u:object_r:build_prop:s0" || entry.typ != "int" {
		t.Errorf("got %+v", entry)
	}

	sys := tr.root.children["persist"].children["sys"]
	if sys == nil {
		t.Fatal("expected interior node 'sys'")
	}
	pentry, ok := sys.prefixes["locale"]
	if !ok {
		t.Fatal("expected prefix entry 'locale' under persist.sys")
	}
	if pentry.context != "u:object_r:system_prop:s0" {
		t.Errorf("got %+v", pentry)
	}
}

func TestAddToTrieDuplicateExactRejected(t *testing.T) {
	tr := NewTrie("u:object_r:default_prop:s0", "string")
	if err := tr.AddToTrie("ro.foo", "u:object_r:a:s0", "string", true); err != nil {
		t.Fatalf("first AddToTrie: %v", err)
	}
	if err := tr.AddToTrie("ro.foo", "u:object_r:b:s0", "string", true); err == nil {
		t.Fatal("expected error for duplicate exact entry")
	}
}

func TestAddToTrieDuplicatePrefixRejected(t *testing.T) {
	tr := NewTrie("u:object_r:default_prop:s0", "string")
	if err := tr.AddToTrie("persist.sys.foo", "u:object_r:a:s0", "string", false); err != nil {
		t.Fatalf("first AddToTrie: %v", err)
	}
	if err := tr.AddToTrie("persist.sys.foo", "u:object_r:b:s0", "string", false); err == nil {
		t.Fatal("expected error for duplicate prefix entry")
	}
}

func TestAddToTrieDotTerminatedSetsChildProperty(t *testing.T) {
	tr := NewTrie("u:object_r:default_prop:s0", "string")
	if err := tr.AddToTrie("ro.", "u:object_r:build_prop:s0", "string", false); err != nil {
		t.Fatalf("AddToTrie: %v", err)
	}
	ro := tr.root.children["ro"]
	if ro == nil {
		t.Fatal("expected interior node 'ro'")
	}
	if ro.entry.context != "u:object_r:build_prop:s0" {
		t.Errorf("got %+v", ro.entry)
	}
}

func TestAddToTrieDuplicateDotTerminatedRejected(t *testing.T) {
	tr := NewTrie("u:object_r:default_prop:s0", "string")
	if err := tr.AddToTrie("ro.", "u:object_r:a:s0", "string", false); err != nil {
		t.Fatalf("first AddToTrie: %v", err)
	}
	if err := tr.AddToTrie("ro.", "u:object_r:b:s0", "string", false); err == nil {
		t.Fatal("expected error for duplicate dot-terminated entry")
	}
}

func TestAddToTrieAccumulatesContextsAndTypes(t *testing.T) {
	tr := NewTrie("u:object_r:default_prop:s0", "string")
	_ = tr.AddToTrie("ro.a", "u:object_r:a:s0", "int", true)
	_ = tr.AddToTrie("ro.b", "u:object_r:b:s0", "bool", true)
	if len(tr.contexts) != 3 {
		t.Errorf("got %d contexts, want 3", len(tr.contexts))
	}
	if len(tr.types) != 3 {
		t.Errorf("got %d types, want 3", len(tr.types))
	}
}
