package hardware

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLevelInvert(t *testing.T) {
	if Low.Invert() != High || High.Invert() != Low {
		t.Error("Invert() did not flip level")
	}
}

func TestSimOutputRecordsWrites(t *testing.T) {
	out := NewSimOutput(High)
	if out.Level() != High {
		t.Fatalf("initial Level() = %v, want High", out.Level())
	}

	_ = out.Write(Low)
	_ = out.Write(High)

	got := out.Writes()
	if len(got) != 2 || got[0] != Low || got[1] != High {
		t.Errorf("Writes() = %v, want [Low High]", got)
	}
}

func TestSysfsSensors(t *testing.T) {
	dir := t.TempDir()
	tempPath := filepath.Join(dir, "temp")
	lightPath := filepath.Join(dir, "light")

	if err := os.WriteFile(tempPath, []byte("23500\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lightPath, []byte("812\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := SysfsSensors{TemperaturePath: tempPath, LightPath: lightPath}.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if r.Temperature != 23 || r.Light != 812 {
		t.Errorf("Read() = %+v, want {23 812}", r)
	}

	if err := os.WriteFile(lightPath, []byte("bright"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (SysfsSensors{TemperaturePath: tempPath, LightPath: lightPath}).Read(); err == nil {
		t.Error("Read() with malformed light file expected error")
	}
}

func TestSimSensorsStayInRange(t *testing.T) {
	s := NewSimSensors(42)
	for range 500 {
		r, err := s.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if r.Temperature < 15 || r.Temperature > 35 || r.Light < 0 || r.Light > 4095 {
			t.Fatalf("reading out of range: %+v", r)
		}
	}
}

func TestExitResetter(t *testing.T) {
	code := -1
	r := ExitResetter{Exit: func(c int) { code = c }}
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	want := errors.New("boom")
	if err := ResetterFunc(func() error { return want }).Reset(); !errors.Is(err, want) {
		t.Errorf("ResetterFunc.Reset() = %v, want %v", err, want)
	}
}
