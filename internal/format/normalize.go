package format

import (
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

const urlWord = "link"

var (
	urlPattern        = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	repeatedBang      = regexp.MustCompile(`([!?])[!?]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize makes substituted text speakable: URLs become a spoken word,
// punctuation runs collapse, whitespace collapses.
func Normalize(text string) string {
	text = urlPattern.ReplaceAllString(text, urlWord)
	text = repeatedBang.ReplaceAllString(text, "$1")
	return collapseWhitespace(text)
}

func collapseWhitespace(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

type currencyNames struct {
	singular string
	plural   string
}

var currencies = map[string]currencyNames{
	"USD": {"dollar", "dollars"},
	"CAD": {"Canadian dollar", "Canadian dollars"},
	"AUD": {"Australian dollar", "Australian dollars"},
	"NZD": {"New Zealand dollar", "New Zealand dollars"},
	"TWD": {"New Taiwan dollar", "New Taiwan dollars"},
	"HKD": {"Hong Kong dollar", "Hong Kong dollars"},
	"SGD": {"Singapore dollar", "Singapore dollars"},
	"EUR": {"euro", "euros"},
	"GBP": {"pound", "pounds"},
	"JPY": {"yen", "yen"},
	"KRW": {"won", "won"},
	"INR": {"rupee", "rupees"},
	"BRL": {"real", "reais"},
	"MXN": {"Mexican peso", "Mexican pesos"},
	"PHP": {"Philippine peso", "Philippine pesos"},
	"ARS": {"Argentine peso", "Argentine pesos"},
	"RUB": {"ruble", "rubles"},
	"PLN": {"zloty", "zlotys"},
	"CHF": {"Swiss franc", "Swiss francs"},
	"SEK": {"Swedish krona", "Swedish kronor"},
	"NOK": {"Norwegian krone", "Norwegian kroner"},
	"DKK": {"Danish krone", "Danish kroner"},
}

// currencyName spells out an ISO currency code, pluralized unless amount is
// exactly one. Unknown codes are returned as-is.
func currencyName(code string, amount float64) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	names, ok := currencies[code]
	if !ok {
		return code
	}
	if cents(amount) == 100 {
		return names.singular
	}
	return names.plural
}

func formatMoney(amount float64, currency string) string {
	value := humanize.FormatFloat("#,###.##", amount)
	if name := currencyName(currency, amount); name != "" {
		return value + " " + name
	}
	return value
}

func formatBits(count int64) string {
	if count == 1 {
		return "1 bit"
	}
	return humanize.Comma(count) + " bits"
}
