package utils

import (
	"embed"
	"path"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.toml
var localeFS embed.FS

var (
	// Bundle is the global translation bundle
	Bundle *i18n.Bundle
	// Localizer is the default localizer
	Localizer *i18n.Localizer

	i18nOnce sync.Once
)

// InitI18n initializes the i18n system. Safe to call more than once.
func InitI18n() error {
	var initErr error
	i18nOnce.Do(func() {
		Bundle = i18n.NewBundle(language.English)
		Bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

		entries, err := localeFS.ReadDir("locales")
		if err != nil {
			initErr = err
			return
		}
		for _, entry := range entries {
			name := path.Join("locales", entry.Name())
			data, err := localeFS.ReadFile(name)
			if err != nil {
				Log.Warn("Failed to read locale %s: %v", name, err)
				continue
			}
			if _, err := Bundle.ParseMessageFileBytes(data, name); err != nil {
				Log.Warn("Failed to load locale %s: %v", name, err)
			}
		}

		Localizer = i18n.NewLocalizer(Bundle, language.English.String())
		Log.Debug("i18n system initialized with %d locale files", len(entries))
	})
	return initErr
}

// GetLocalizer returns a localizer for the specified language
func GetLocalizer(lang string) *i18n.Localizer {
	if Bundle == nil {
		_ = InitI18n()
	}
	if lang == "" {
		lang = "en"
	}
	return i18n.NewLocalizer(Bundle, lang)
}

// T translates a message ID
func T(localizer *i18n.Localizer, messageID string) string {
	return TWithData(localizer, messageID, nil)
}

// TWithData translates a message ID, rendering data into its template.
// Messages missing in the localizer's language fall back to English, and
// unknown IDs are returned as is.
func TWithData(localizer *i18n.Localizer, messageID string, data map[string]interface{}) string {
	if localizer == nil {
		localizer = GetLocalizer("en")
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		Log.Debug("Translation error for '%s': %v", messageID, err)
		if msg == "" {
			return messageID
		}
	}
	return msg
}
