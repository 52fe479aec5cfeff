package bootconfig

import "testing"

func TestDefaulted(t *testing.T) {
	c := Config{}.Defaulted()
	if c.NumHarts != DefaultNumHarts {
		t.Errorf("NumHarts = %d, want %d", c.NumHarts, DefaultNumHarts)
	}
	if c.MaxSiginfoPerSignal != DefaultMaxSiginfoPerSignal {
		t.Errorf("MaxSiginfoPerSignal = %d, want %d", c.MaxSiginfoPerSignal, DefaultMaxSiginfoPerSignal)
	}
}

func TestLoadString(t *testing.T) {
	c, err := LoadString(`
num_harts = 8
max_workqueue_active = 32
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if c.NumHarts != 8 {
		t.Errorf("NumHarts = %d, want 8", c.NumHarts)
	}
	if c.MaxWorkqueueActive != 32 {
		t.Errorf("MaxWorkqueueActive = %d, want 32", c.MaxWorkqueueActive)
	}
	// Untouched fields still default.
	if c.MinWorkqueueActive != DefaultMinWorkqueueActive {
		t.Errorf("MinWorkqueueActive = %d, want %d", c.MinWorkqueueActive, DefaultMinWorkqueueActive)
	}
}

func TestLoadStringInvalid(t *testing.T) {
	if _, err := LoadString("not = [valid"); err == nil {
		t.Errorf("LoadString(invalid) succeeded, want error")
	}
}
