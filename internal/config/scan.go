package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

// ErrPresetNotFound is returned when no preset matches a name.
var ErrPresetNotFound = errors.New("preset not found")

var safePresetName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PresetInfo is a preset listing entry.
type PresetInfo struct {
	Filename    string `json:"filename"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Preset is a named suppression setting stored as YAML.
type Preset struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Suppression SuppressionConfig `yaml:"suppression" json:"suppression"`
}

// Params returns the sanitized suppression params of the preset.
func (p Preset) Params() (denoise.SuppressionParams, error) {
	return p.Suppression.Params()
}

// ScanPresets lists every *.yaml preset under dir, sorted by name. A missing
// directory yields an empty list.
func ScanPresets(dir string) ([]PresetInfo, error) {
	presets := []PresetInfo{}
	if strings.TrimSpace(dir) == "" {
		return presets, nil
	}

	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil {
			return nil
		}
		if d.IsDir() || !isYAML(d.Name()) {
			return nil
		}
		info := PresetInfo{Filename: d.Name(), Name: stem(d.Name())}
		if preset, err := ReadPreset(path); err == nil {
			info.Name = preset.Name
			info.Description = preset.Description
		}
		presets = append(presets, info)
		return nil
	})

	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

// ReadPreset decodes one preset file. A preset without a name takes the
// file's base name.
func ReadPreset(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, err
	}
	var preset Preset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return Preset{}, fmt.Errorf("decode preset %s: %w", filepath.Base(path), err)
	}
	if preset.Name == "" {
		preset.Name = stem(path)
	}
	if _, err := preset.Params(); err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", preset.Name, err)
	}
	return preset, nil
}

// FindPreset looks a preset up by its name or file stem.
func FindPreset(dir string, name string) (Preset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Preset{}, ErrPresetNotFound
	}
	if safePresetName.MatchString(name) {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, name+ext)
			if fileExists(path) {
				return ReadPreset(path)
			}
		}
	}

	infos, err := ScanPresets(dir)
	if err != nil {
		return Preset{}, err
	}
	for _, info := range infos {
		if info.Name == name {
			return ReadPreset(filepath.Join(dir, info.Filename))
		}
	}
	return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
}

// SavePreset writes params as <dir>/<name>.yaml and returns the path.
func SavePreset(dir string, name string, description string, params denoise.SuppressionParams) (string, error) {
	if !safePresetName.MatchString(name) {
		return "", fmt.Errorf("invalid preset name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create presets dir: %w", err)
	}
	data, err := yaml.Marshal(Preset{
		Name:        name,
		Description: description,
		Suppression: SuppressionFromParams(params.Sanitize()),
	})
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
