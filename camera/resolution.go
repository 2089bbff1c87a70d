package camera

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// DefaultResolutions returns the built-in resolution table. The keys are
// the size names accepted by the command protocol.
func DefaultResolutions() map[string]Resolution {
	return map[string]Resolution{
		"THUMBNAIL":  {Width: 320, Height: 240},
		"LOW_LIGHT":  {Width: 640, Height: 480},
		"HD_READY":   {Width: 1280, Height: 720},
		"FULL_HD":    {Width: 1920, Height: 1080},
		"ULTRA_WIDE": {Width: 4056, Height: 3040},
	}
}

// LookupResolution resolves a size name case-insensitively. Unknown names
// resolve to the default resolution with ok set to false.
func LookupResolution(table map[string]Resolution, name string) (res Resolution, ok bool) {
	if res, ok = table[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return res, true
	}

	return table[DefaultResolution], false
}

// resolutionsFile is the YAML document shape accepted by LoadResolutions.
type resolutionsFile struct {
	Resolutions map[string]Resolution `yaml:"resolutions"`
}

// LoadResolutions reads a YAML resolution table and merges it over the
// built-in defaults. Entries in the file add to or replace defaults by
// name; names are upper-cased.
func LoadResolutions(path string) (map[string]Resolution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("camera: read resolutions %s: %w", path, err)
	}

	var file resolutionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("camera: parse resolutions %s: %w", path, err)
	}

	table := DefaultResolutions()
	for name, res := range file.Resolutions {
		if res.Width <= 0 || res.Height <= 0 {
			return nil, fmt.Errorf("camera: resolution %s: dimensions must be positive, got %s", name, res)
		}
		table[strings.ToUpper(name)] = res
	}

	return table, nil
}
