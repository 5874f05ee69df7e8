package logging

import "testing"

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development", "local", "staging"} {
		l, err := New(env)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", env, err)
		}
		l.Info("logger ready")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expect a no-op logger")
	}
}
