package version

import (
	"strings"
	"testing"
)

func TestString_DirtySuffix(t *testing.T) {
	oldV, oldD := Version, Dirty
	defer func() { Version, Dirty = oldV, oldD }()

	Version, Dirty = "1.2.0", "true"
	if got := String(); got != "1.2.0-dirty" {
		t.Errorf("String() = %q, want 1.2.0-dirty", got)
	}
	if !Get().Dirty {
		t.Error("Get().Dirty should be true")
	}

	Dirty = "false"
	if got := String(); got != "1.2.0" {
		t.Errorf("String() = %q, want 1.2.0", got)
	}
}

func TestFull_ContainsName(t *testing.T) {
	if !strings.HasPrefix(Full(), "docsmith ") {
		t.Errorf("Full() = %q", Full())
	}
}
