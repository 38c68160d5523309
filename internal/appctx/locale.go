package appctx

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// localePrinter formats numbers for the user's locale, taken from LC_ALL,
// LC_NUMERIC or LANG. Unset or unparseable values fall back to en-US.
func localePrinter() *message.Printer {
	raw := os.Getenv("LC_ALL")
	if raw == "" {
		raw = os.Getenv("LC_NUMERIC")
	}
	if raw == "" {
		raw = os.Getenv("LANG")
	}
	return message.NewPrinter(parseLocale(raw))
}

// parseLocale accepts POSIX ("de_DE.UTF-8") and BCP 47 ("de-DE") forms.
func parseLocale(raw string) language.Tag {
	if idx := strings.IndexByte(raw, '.'); idx != -1 {
		raw = raw[:idx]
	}
	raw = strings.ReplaceAll(raw, "_", "-")

	tag, err := language.Parse(raw)
	if err != nil || tag == language.Und {
		return language.AmericanEnglish
	}
	return tag
}
