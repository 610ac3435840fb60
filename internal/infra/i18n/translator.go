// Package i18n holds the message catalogues used by the notification channels.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when none is configured and for keys a catalogue lacks.
const DefaultLanguage = "en"

//go:embed locales/*.yaml
var LocalesFS embed.FS

type Translator struct {
	lang         string
	translations map[string]string
	fallback     map[string]string
}

// NewTranslator reads locales/<langCode>.yaml from fsys. Keys missing from the
// catalogue fall back to the default language.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	langCode = strings.ToLower(strings.TrimSpace(langCode))
	if langCode == "" {
		langCode = DefaultLanguage
	}
	t, err := readCatalogue(fsys, langCode)
	if err != nil {
		return nil, err
	}
	if langCode != DefaultLanguage {
		if def, err := readCatalogue(fsys, DefaultLanguage); err == nil {
			t.fallback = def.translations
		}
	}
	return t, nil
}

// Load returns the embedded catalogue for langCode.
func Load(langCode string) (*Translator, error) {
	return NewTranslator(LocalesFS, langCode)
}

var (
	englishOnce sync.Once
	english     *Translator
)

// English returns the embedded default catalogue.
func English() *Translator {
	englishOnce.Do(func() {
		t, err := Load(DefaultLanguage)
		if err != nil {
			// the default catalogue is compiled in
			panic(err)
		}
		english = t
	})
	return english
}

func readCatalogue(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", langCode+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = langCode
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// Lang is the language code of the catalogue.
func (t *Translator) Lang() string { return t.lang }

// T formats the message for key, or returns key when no catalogue has it.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		if format, ok = t.fallback[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
