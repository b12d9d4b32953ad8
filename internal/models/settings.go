package models

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm selects the summarization strategy used by the processing service.
type Algorithm string

const (
	AlgorithmTextRank Algorithm = "textrank"
	AlgorithmLSA      Algorithm = "lsa"
	AlgorithmLexRank  Algorithm = "lexrank"
	AlgorithmBART     Algorithm = "bart"
)

// Summary length bounds accepted by the processing service.
const (
	MinSummaryLength     = 50
	MaxSummaryLength     = 500
	DefaultSummaryLength = 150
)

// LanguageAuto asks for the language to be detected from each document's text.
const LanguageAuto = "auto"

// ErrInvalidSettings is wrapped by every SummarySettings validation failure.
var ErrInvalidSettings = errors.New("invalid summary settings")

// ParseAlgorithm normalizes an algorithm name. "bert" is accepted as an
// alias of "bart" because the processing service uses that identifier.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case AlgorithmTextRank, AlgorithmLSA, AlgorithmLexRank, AlgorithmBART:
		return a, nil
	case "bert":
		return AlgorithmBART, nil
	}
	return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidSettings, s)
}

// WireName is the identifier the processing service expects.
func (a Algorithm) WireName() string {
	if a == AlgorithmBART {
		return "bert"
	}
	return string(a)
}

// SummarySettings configure one processing run.
type SummarySettings struct {
	Algorithm Algorithm `json:"algorithm" msgpack:"algorithm"`
	MaxLength int       `json:"maxLength" msgpack:"maxLength"`
	Language  string    `json:"language" msgpack:"language"`
}

// DefaultSettings returns the settings a new queue starts with.
func DefaultSettings() SummarySettings {
	return SummarySettings{
		Algorithm: AlgorithmTextRank,
		MaxLength: DefaultSummaryLength,
		Language:  "en",
	}
}

// Normalize canonicalizes the algorithm and language and then validates.
func (s SummarySettings) Normalize() (SummarySettings, error) {
	a, err := ParseAlgorithm(string(s.Algorithm))
	if err != nil {
		return s, err
	}
	s.Algorithm = a
	s.Language = strings.ToLower(strings.TrimSpace(s.Language))
	return s, s.Validate()
}

// Validate checks the algorithm, length range and language code.
func (s SummarySettings) Validate() error {
	switch s.Algorithm {
	case AlgorithmTextRank, AlgorithmLSA, AlgorithmLexRank, AlgorithmBART:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidSettings, s.Algorithm)
	}
	if s.MaxLength < MinSummaryLength || s.MaxLength > MaxSummaryLength {
		return fmt.Errorf("%w: maxLength %d outside [%d,%d]", ErrInvalidSettings, s.MaxLength, MinSummaryLength, MaxSummaryLength)
	}
	if !isLanguageCode(s.Language) {
		return fmt.Errorf("%w: language %q is not an ISO-639-1 code", ErrInvalidSettings, s.Language)
	}
	return nil
}

func isLanguageCode(code string) bool {
	if code == LanguageAuto {
		return true
	}
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
