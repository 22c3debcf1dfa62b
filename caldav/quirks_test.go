package caldav

import "testing"

func TestQuirksByName_KnownProfile(t *testing.T) {
	q := QuirksByName("owncloud")
	if !q.EtagMissingAfterPUT {
		t.Fatal("expected owncloud profile to set EtagMissingAfterPUT")
	}
}

func TestQuirksByName_UnknownNameIsZeroValue(t *testing.T) {
	q := QuirksByName("does-not-exist")
	if q != (Quirks{}) {
		t.Fatalf("expected zero-value Quirks for an unknown name, got %+v", q)
	}
}
