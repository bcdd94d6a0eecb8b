package scenarios

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func timeRef(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
}

func TestScenario(t *testing.T) {
	files, err := filepath.Glob("*.yaml")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no scenario files found")
	}
	for _, f := range files {
		sc, err := Load(f)
		if err != nil {
			t.Fatalf("load %s: %v", f, err)
		}
		t.Run(sc.Name, func(t *testing.T) {
			RunScenario(t, sc)
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	if _, err := Load("no-file.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
	tmp, err := os.CreateTemp(t.TempDir(), "bad*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.WriteString(":"); err != nil {
		t.Fatal(err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(tmp.Name()); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestRequestDefWindow(t *testing.T) {
	def := RequestDef{AssetID: "a", Type: "DECREASE", LeadMinutes: 60, DurationMinutes: 120}
	req, err := def.ToModel(timeRef(t))
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if got := req.EndTime.Sub(req.StartTime); got.Minutes() != 120 {
		t.Fatalf("window = %v", got)
	}
}
