// Package config provides configuration loading and management for ctregions.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CasePlaceholder is substituted with the case directory name in mask path templates.
const CasePlaceholder = "{case}"

// Boundary names the organ mask whose first appearance marks a region boundary
type Boundary struct {
	// Organ is a human readable organ name used in diagnostics
	Organ string `yaml:"organ"`

	// Mask is a path template to the organ's NIfTI mask, {case} is replaced per case
	Mask string `yaml:"mask"`
}

// Region is one output bucket of the partition step
type Region struct {
	// Name is the region label (upper, middle, lower, ...)
	Name string `yaml:"name"`

	// Dir is the root directory receiving this region's slices
	Dir string `yaml:"dir"`
}

// ReconcilePair names two independently produced buckets and the complete
// dataset used to backfill their gaps
type ReconcilePair struct {
	A         string `yaml:"a"`
	B         string `yaml:"b"`
	Reference string `yaml:"reference"`
}

// MergeInput is one region output taking part in the merge step
type MergeInput struct {
	// Region is the label used to look up the weight and to order contributors
	Region string `yaml:"region"`

	// Dir is the root holding <case>/<acquisition>/ slice folders
	Dir string `yaml:"dir"`

	// Weight is the contribution of this region, nil means equal weighting
	Weight *float64 `yaml:"weight,omitempty"`
}

// ExtractJob copies the slices tied to one organ into its own dataset
type ExtractJob struct {
	Organ string `yaml:"organ"`
	Mask  string `yaml:"mask"`
	Dir   string `yaml:"dir"`

	// Mode is "upTo" (identity 1 through the organ's farthest plane) or
	// "present" (organ slices only)
	Mode string `yaml:"mode"`
}

// CombineJob unions several organ masks into a single binary mask
type CombineJob struct {
	// Masks are path templates of the component masks
	Masks []string `yaml:"masks"`

	// Output is a path template for the combined .nii.gz mask
	Output string `yaml:"output"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is how many cases are processed concurrently
		Workers int `yaml:"workers"`

		// CopyAttempts is how many times a failed file copy is attempted
		CopyAttempts int `yaml:"copyAttempts"`

		// CopyDelay is the initial delay between copy attempts
		CopyDelay time.Duration `yaml:"copyDelay"`

		// ValidateSlices parses each slice as DICOM before copying it
		ValidateSlices bool `yaml:"validateSlices"`
	} `yaml:"processing"`

	// Dataset layout
	Dataset struct {
		// Root contains one directory per case
		Root string `yaml:"root"`

		// AcquisitionPrefix filters acquisition sub-directories that get partitioned
		AcquisitionPrefix string `yaml:"acquisitionPrefix"`

		// SliceExtension is the per-slice file extension
		SliceExtension string `yaml:"sliceExtension"`

		// SliceWidth is the zero-padded width of slice file stems
		SliceWidth int `yaml:"sliceWidth"`
	} `yaml:"dataset"`

	// Partition step
	Partition struct {
		Boundaries []Boundary `yaml:"boundaries"`
		Regions    []Region   `yaml:"regions"`
	} `yaml:"partition"`

	// Reconcile step
	Reconcile struct {
		Pairs []ReconcilePair `yaml:"pairs"`
	} `yaml:"reconcile"`

	// Merge step
	Merge struct {
		Inputs []MergeInput `yaml:"inputs"`
		Output string       `yaml:"output"`
	} `yaml:"merge"`

	Extract struct {
		Jobs []ExtractJob `yaml:"jobs"`
	} `yaml:"extract"`

	Combine struct {
		Jobs []CombineJob `yaml:"jobs"`
	} `yaml:"combine"`

	// Preview step
	Preview struct {
		// Dir receives one boundary image per case, empty disables the step
		Dir string `yaml:"dir"`
	} `yaml:"preview"`

	// Logging parameters
	Logging struct {
		// File enables a rotating log file instead of stderr
		File string `yaml:"file"`

		// MaxSize is the log file size in megabytes before rotation
		MaxSize int `yaml:"maxSize"`

		// MaxAge is how many days rotated files are kept
		MaxAge int `yaml:"maxAge"`

		// Verbose enables debug level logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.CopyAttempts = 3
	cfg.Processing.CopyDelay = 100 * time.Millisecond
	cfg.Processing.ValidateSlices = true

	cfg.Dataset.Root = "dataset"
	cfg.Dataset.AcquisitionPrefix = "CT"
	cfg.Dataset.SliceExtension = ".DCM"
	cfg.Dataset.SliceWidth = 8

	cfg.Partition.Boundaries = []Boundary{
		{Organ: "aorta", Mask: "organSeg/dataset_aorta/{case}_CT2/aorta_{case}_CT2.nii.gz"},
		{Organ: "liver", Mask: "organSeg/dataset_liver/{case}_CT2/liver_{case}_CT2.nii.gz"},
	}
	cfg.Partition.Regions = []Region{
		{Name: "upper", Dir: "dataset_upper"},
		{Name: "middle", Dir: "dataset_middle"},
		{Name: "lower", Dir: "dataset_lower"},
	}

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 28

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the settings every step relies on. Step specific lists
// (reconcile pairs, merge inputs) are checked by the step that uses them.
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers))
	}
	if c.Processing.CopyAttempts < 1 {
		errs = append(errs, fmt.Errorf("processing.copyAttempts must be at least 1, got %d", c.Processing.CopyAttempts))
	}
	if c.Dataset.SliceWidth < 1 {
		errs = append(errs, fmt.Errorf("dataset.sliceWidth must be positive, got %d", c.Dataset.SliceWidth))
	}
	if !strings.HasPrefix(c.Dataset.SliceExtension, ".") {
		errs = append(errs, fmt.Errorf("dataset.sliceExtension must start with a dot, got %q", c.Dataset.SliceExtension))
	}
	if n := len(c.Partition.Boundaries); n > 0 && len(c.Partition.Regions) != n+1 {
		errs = append(errs, fmt.Errorf("partition needs %d regions for %d boundaries, got %d",
			n+1, n, len(c.Partition.Regions)))
	}
	seen := make(map[string]bool)
	for _, r := range c.Partition.Regions {
		if r.Name == "" || r.Dir == "" {
			errs = append(errs, fmt.Errorf("partition region needs both name and dir: %+v", r))
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("duplicate partition region %q", r.Name))
		}
		seen[r.Name] = true
	}
	for _, in := range c.Merge.Inputs {
		if in.Weight != nil && !(*in.Weight >= 0 && !math.IsInf(*in.Weight, 0)) {
			errs = append(errs, fmt.Errorf("merge weight for %q must be finite and non-negative: %g", in.Region, *in.Weight))
		}
	}
	for _, j := range c.Extract.Jobs {
		if j.Mode != "upTo" && j.Mode != "present" {
			errs = append(errs, fmt.Errorf("extract job %q has unknown mode %q", j.Organ, j.Mode))
		}
	}
	return errors.Join(errs...)
}

// Weights returns the merge weight table keyed by region. Inputs without an
// explicit weight get 1.0 so that unspecified tables weight equally.
func (c *Config) Weights() map[string]float64 {
	w := make(map[string]float64, len(c.Merge.Inputs))
	for _, in := range c.Merge.Inputs {
		if in.Weight == nil {
			w[in.Region] = 1.0
			continue
		}
		w[in.Region] = *in.Weight
	}
	return w
}

// ExpandCase substitutes the case name into a path template.
func ExpandCase(template, caseID string) string {
	return strings.ReplaceAll(template, CasePlaceholder, caseID)
}
