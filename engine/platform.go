package engine

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Variant is a build of the engine.
type Variant int

const (
	VariantGPU Variant = iota + 1
	VariantCPU
)

func (v Variant) String() string {
	switch v {
	case VariantGPU:
		return "GPU (OpenCL)"
	case VariantCPU:
		return "CPU (Eigen)"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant parses a menu number or a variant name.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "gpu", "opencl":
		return VariantGPU, nil
	case "2", "cpu", "eigen":
		return VariantCPU, nil
	default:
		return 0, fmt.Errorf("unknown variant %q", s)
	}
}

// Platform holds the platform-specific file names of an engine release.
type Platform struct {
	OS       string
	Archives map[Variant]string
	Binary   string
}

var platforms = map[string]Platform{
	"linux": {
		OS: "linux",
		Archives: map[Variant]string{
			VariantGPU: "katago-v1.13.0-opencl-linux-x64.zip",
			VariantCPU: "katago-v1.13.0-eigenavx2-linux-x64.zip",
		},
		Binary: "katago",
	},
	"windows": {
		OS: "windows",
		Archives: map[Variant]string{
			VariantGPU: "katago-v1.13.0-opencl-windows-x64.zip",
			VariantCPU: "katago-v1.13.0-eigenavx2-windows-x64.zip",
		},
		Binary: "katago.exe",
	},
}

// LookupPlatform returns the platform for the given GOOS.
func LookupPlatform(goos string) (Platform, error) {
	p, ok := platforms[goos]
	if !ok {
		return Platform{}, fmt.Errorf("unsupported platform %q", goos)
	}
	return p, nil
}

// Archive returns the release archive name for a variant.
func (p Platform) Archive(v Variant) (string, error) {
	a, ok := p.Archives[v]
	if !ok {
		return "", fmt.Errorf("no %s archive for %s", v, p.OS)
	}
	return a, nil
}

// Release describes where an engine release and its model are published and how they are laid out locally.
type Release struct {
	BinariesURL string
	BinaryDir   string
	ModelsURL   string
	Model       string
	// AnalysisConfig is the name of the analysis config file shipped in the release archive.
	AnalysisConfig string
}

func DefaultRelease() Release {
	return Release{
		BinariesURL:    "https://github.com/lightvector/KataGo/releases/download/v1.13.0/",
		BinaryDir:      "KataGo",
		ModelsURL:      "https://media.katagotraining.org/uploaded/networks/models/kata1/",
		Model:          "kata1-b18c384nbt-s8341979392-d3881113763.bin.gz",
		AnalysisConfig: "analysis_example.cfg",
	}
}

// Layout is the local filesystem layout of a provisioned engine.
type Layout struct {
	BinaryDir  string
	BinaryPath string
	ModelPath  string
	ConfigPath string
}

func (r Release) Layout(p Platform) Layout {
	return Layout{
		BinaryDir:  r.BinaryDir,
		BinaryPath: filepath.Join(r.BinaryDir, p.Binary),
		ModelPath:  r.Model,
		ConfigPath: filepath.Join(r.BinaryDir, r.AnalysisConfig),
	}
}

func (r Release) ArchiveURL(p Platform, v Variant) (string, error) {
	a, err := p.Archive(v)
	if err != nil {
		return "", err
	}
	return joinURL(r.BinariesURL, a), nil
}

func (r Release) ModelURL() string {
	return joinURL(r.ModelsURL, r.Model)
}

func joinURL(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + name
}

// AnalysisArgs returns the arguments that start the engine in analysis mode.
func AnalysisArgs(l Layout) []string {
	return []string{"analysis", "-model", l.ModelPath, "-config", l.ConfigPath}
}
