// Package catalog describes the summarization algorithms and languages the
// gateway offers. The default catalog is embedded; deployments may replace it
// with a YAML file of the same shape.
package catalog

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/instabrief/backend/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Algorithm describes one summarization strategy.
type Algorithm struct {
	Name        models.Algorithm `yaml:"name" json:"name"`
	DisplayName string           `yaml:"display_name" json:"display_name"`
	Description string           `yaml:"description" json:"description"`
	Speed       string           `yaml:"speed" json:"speed"`
	Quality     string           `yaml:"quality" json:"quality"`
}

// Language is a supported ISO-639-1 language.
type Language struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// Catalog is the full set of offered algorithms and languages.
type Catalog struct {
	Algorithms []Algorithm `yaml:"algorithms" json:"algorithms"`
	Languages  []Language  `yaml:"languages" json:"languages"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseFromReader(file)
}

// ParseFromReader parses a catalog from an io.Reader.
func ParseFromReader(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	for i, a := range c.Algorithms {
		name, err := models.ParseAlgorithm(string(a.Name))
		if err != nil {
			return nil, fmt.Errorf("algorithm %d: %w", i, err)
		}
		c.Algorithms[i].Name = name
	}
	for i, l := range c.Languages {
		s := models.SummarySettings{Algorithm: models.AlgorithmTextRank, MaxLength: models.DefaultSummaryLength, Language: l.Code}
		if err := s.Validate(); err != nil || l.Code == models.LanguageAuto {
			return nil, fmt.Errorf("language %d: invalid code %q", i, l.Code)
		}
	}
	return &c, nil
}

// LanguageCodes returns the catalog's language codes in order.
func (c *Catalog) LanguageCodes() []string {
	codes := make([]string, len(c.Languages))
	for i, l := range c.Languages {
		codes[i] = l.Code
	}
	return codes
}

// HasLanguage reports whether code is offered.
func (c *Catalog) HasLanguage(code string) bool {
	for _, l := range c.Languages {
		if l.Code == code {
			return true
		}
	}
	return false
}
