package detectpipe

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

// LoadLanguageMap reads the scientific-name → common-name JSON file for
// locale under langDir (e.g. "<langDir>/labels_en.json"). A missing file
// is not an error: callers fall back to the scientific name.
func LoadLanguageMap(langDir, locale string) (map[string]string, error) {
	path := langDir + "/labels_" + locale + ".json"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.New(err).
			Component("detectpipe").
			Category(errors.CategoryDetectionFilter).
			Context("path", path).
			Build()
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(err).
			Component("detectpipe").
			Category(errors.CategoryDetectionFilter).
			Context("path", path).
			Build()
	}
	return m, nil
}

// LoadSpeciesList reads a custom include/exclude/whitelist file, one
// scientific name per line, applying the same "SciName_CommonName" ->
// "SciName" split the label file itself uses. A missing file yields an
// empty (not nil) set rather than an error, since these lists are
// optional.
func LoadSpeciesList(path string) map[string]bool {
	set := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return set
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, '_'); idx >= 0 {
			line = line[:idx]
		}
		set[line] = true
	}
	return set
}
