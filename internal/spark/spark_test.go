package spark

import (
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	for _, id := range []ID{Sage, Guardian, TeacherAdmin} {
		s, ok := Get(id)
		if !ok {
			t.Fatalf("Get(%s) not found", id)
		}
		if s.ID != id {
			t.Errorf("Get(%s).ID = %s", id, s.ID)
		}
		if s.Role == "" {
			t.Errorf("%s has empty role", id)
		}
		if s.AnchorPhrase == "" {
			t.Errorf("%s has empty anchor phrase", id)
		}
	}

	if _, ok := Get("nonsense"); ok {
		t.Error("Get should reject unknown IDs")
	}
	if Valid("nonsense") {
		t.Error("Valid should reject unknown IDs")
	}
	if !Valid(Guardian) {
		t.Error("Valid should accept guardian")
	}
}

func TestAll(t *testing.T) {
	all := All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d sparks, want 3", len(all))
	}
	if all[0].ID != Sage {
		t.Errorf("All()[0] = %s, want sage first", all[0].ID)
	}
}

func TestMustGet_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustGet should panic on unknown ID")
		}
	}()
	MustGet("nonsense")
}

func TestSystemPrompt(t *testing.T) {
	s := MustGet(Sage)
	prompt := s.SystemPrompt()

	if !strings.Contains(prompt, s.Role) {
		t.Error("prompt missing role")
	}
	if !strings.Contains(prompt, "Constraints:") {
		t.Error("prompt missing constraints section")
	}
	for _, c := range s.Constraints {
		if !strings.Contains(prompt, c) {
			t.Errorf("prompt missing constraint %q", c)
		}
	}
}

func TestWithAnchor(t *testing.T) {
	s := MustGet(Sage)

	got := s.WithAnchor("Great thinking!")
	if !strings.HasSuffix(got, s.AnchorPhrase) {
		t.Errorf("reply missing anchor: %q", got)
	}

	// Already anchored replies are not double-anchored.
	again := s.WithAnchor(got)
	if strings.Count(again, s.AnchorPhrase) != 1 {
		t.Errorf("anchor applied twice: %q", again)
	}

	// Trailing whitespace before the anchor check.
	trailing := s.WithAnchor(got + "\n  ")
	if strings.Count(trailing, s.AnchorPhrase) != 1 {
		t.Errorf("anchor applied twice after trailing space: %q", trailing)
	}
}

func TestWithAnchor_NoAnchorPhrase(t *testing.T) {
	s := Spark{ID: "bare"}
	if got := s.WithAnchor("reply"); got != "reply" {
		t.Errorf("got %q, want unchanged reply", got)
	}
}

func TestGuardianRoleQuotesTransparency(t *testing.T) {
	g := MustGet(Guardian)
	if !strings.Contains(g.Role, ReportingTransparency) {
		t.Error("Guardian role should quote the reporting transparency script")
	}
}
