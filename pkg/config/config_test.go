package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Dataset.SliceWidth != 8 || cfg.Dataset.SliceExtension != ".DCM" {
		t.Errorf("unexpected defaults: %+v", cfg.Dataset)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Partition.Regions) != 3 || cfg.Partition.Regions[1].Name != "middle" {
		t.Errorf("regions not preserved: %+v", cfg.Partition.Regions)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
processing:
  workers: 2
dataset:
  root: /data/cases
partition:
  boundaries:
    - organ: thyroid
      mask: /seg/{case}/thyroid.nii.gz
  regions:
    - name: head
      dir: /out/head
    - name: body
      dir: /out/body
merge:
  inputs:
    - region: head
      dir: /res/head
      weight: 0.25
    - region: body
      dir: /res/body
`
	if err := os.WriteFile(path, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Processing.Workers)
	}
	// Unset values keep their defaults
	if cfg.Processing.CopyAttempts != 3 {
		t.Errorf("copyAttempts = %d, want default 3", cfg.Processing.CopyAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	w := cfg.Weights()
	if w["head"] != 0.25 || w["body"] != 1.0 {
		t.Errorf("weights = %v", w)
	}
	if got := ExpandCase(cfg.Partition.Boundaries[0].Mask, "case07"); got != "/seg/case07/thyroid.nii.gz" {
		t.Errorf("ExpandCase = %q", got)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.Workers = 0
	cfg.Partition.Regions = cfg.Partition.Regions[:2]
	neg := -1.0
	cfg.Merge.Inputs = []MergeInput{{Region: "upper", Dir: "x", Weight: &neg}}
	cfg.Extract.Jobs = []ExtractJob{{Organ: "kidney", Mode: "sideways"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"workers", "regions", "non-negative", "sideways"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateRejectsNonFiniteWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`merge:
  inputs:
    - region: upper
      dir: dataset_upper
      weight: .nan
    - region: lower
      dir: dataset_lower
      weight: .inf
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for NaN and infinite weights")
	}
	for _, want := range []string{`"upper"`, `"lower"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
