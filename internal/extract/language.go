package extract

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// FallbackLanguage is reported when detection has nothing to go on.
const FallbackLanguage = "en"

// DefaultLanguages are the codes detection chooses from unless told otherwise.
var DefaultLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh"}

// Detector guesses the ISO-639-1 language of a text.
type Detector struct {
	once      sync.Once
	codes     []string
	languages []lingua.Language
	detector  lingua.LanguageDetector
}

// NewDetector restricts detection to the given ISO-639-1 codes. Unknown codes
// are ignored; fewer than two usable codes falls back to DefaultLanguages.
// The underlying models load on first use.
func NewDetector(codes ...string) *Detector {
	d := &Detector{}
	for _, c := range codes {
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(c))
		if iso == lingua.UnknownIsoCode639_1 {
			continue
		}
		d.languages = append(d.languages, lingua.GetLanguageFromIsoCode639_1(iso))
		d.codes = append(d.codes, strings.ToLower(c))
	}
	if len(d.languages) < 2 {
		return NewDetector(DefaultLanguages...)
	}
	return d
}

// Detect returns the detected language code, or FallbackLanguage when the
// text is blank or no language is confident enough.
func (d *Detector) Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return FallbackLanguage
	}
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(d.languages...).
			Build()
	})
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return FallbackLanguage
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// Codes returns the languages detection chooses from.
func (d *Detector) Codes() []string {
	return append([]string(nil), d.codes...)
}

var defaultDetector = NewDetector(DefaultLanguages...)

// DetectLanguage runs the default detector.
func DetectLanguage(text string) string {
	return defaultDetector.Detect(text)
}
