package middleware

import (
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"
)

// SupportedLanguages lists the locales shipped in utils/locales, default first
var SupportedLanguages = []language.Tag{language.English, language.Japanese}

var languageMatcher = language.NewMatcher(SupportedLanguages)

// DetectLanguage picks the request language from the lang query parameter,
// the lang cookie or the Accept-Language header, in that order
func DetectLanguage(c *fiber.Ctx, fallback string) string {
	for _, candidate := range []string{c.Query("lang"), c.Cookies("lang")} {
		if candidate == "" {
			continue
		}
		if tag, err := language.Parse(candidate); err == nil {
			if base, conf := matchBase(tag); conf != language.No {
				return base
			}
		}
	}

	if header := c.Get(fiber.HeaderAcceptLanguage); header != "" {
		tags, _, err := language.ParseAcceptLanguage(header)
		if err == nil && len(tags) > 0 {
			_, index, conf := languageMatcher.Match(tags...)
			if conf != language.No {
				return baseOf(SupportedLanguages[index])
			}
		}
	}

	if fallback == "" {
		return baseOf(SupportedLanguages[0])
	}
	return fallback
}

func matchBase(tag language.Tag) (string, language.Confidence) {
	_, index, conf := languageMatcher.Match(tag)
	return baseOf(SupportedLanguages[index]), conf
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// LocaleMiddleware stores the request language and its localizer in
// c.Locals("lang") and c.Locals("localizer")
func LocaleMiddleware(defaultLang string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := DetectLanguage(c, defaultLang)

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		utils.Log.Debug("Locale detected: %s for path: %s", lang, c.Path())

		return c.Next()
	}
}
