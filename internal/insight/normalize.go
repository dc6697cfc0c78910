package insight

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Epsilon replaces a zero or unparsable CTR/CPA so the score never divides by
// zero. Ranking expectations downstream depend on this exact value.
const Epsilon = 0.01

var (
	// numberPrefix matches the leading decimal number of a cleaned string.
	numberPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
	// magnitudeRe splits "12.3K" into its number and optional suffix.
	magnitudeRe = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)([KMB])?$`)

	unitTokens = []string{"POSTS", "POST", "VIDEOS", "VIDEO", "VIEWS", "VIEW", "USES"}

	magnitudeFactor = map[string]float64{
		"K": 1e3,
		"M": 1e6,
		"B": 1e9,
	}
)

// Normalize turns a locale-formatted number such as "2%", "$1.50", "1,5" or
// "-12 %" into a float. Leading currency codes are skipped and the first comma
// is read as the decimal separator. Unparsable input yields 0.
func Normalize(raw string) float64 {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == '%', unicode.IsSpace(r):
			continue
		case unicode.Is(unicode.Sc, r):
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimLeftFunc(b.String(), func(r rune) bool {
		return !unicode.IsDigit(r) && r != '-' && r != '+' && r != '.'
	})
	cleaned = strings.Replace(cleaned, ",", ".", 1)

	m := numberPrefix.FindString(cleaned)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// NormalizeDenominator is Normalize with zero replaced by Epsilon.
func NormalizeDenominator(raw string) float64 {
	v := Normalize(raw)
	if v == 0 {
		return Epsilon
	}
	return v
}

// NormalizeCost reads a CPA cell. Only digits and separators count, so signs
// and currency codes are dropped; zero becomes Epsilon.
func NormalizeCost(raw string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	return NormalizeDenominator(cleaned)
}

// ParseMagnitude reads counts such as "12.3K posts", "1M" or "500".
// Anything unreadable counts as zero.
func ParseMagnitude(text string) int64 {
	s := strings.ToUpper(strings.Join(strings.FieldsFunc(text, unicode.IsSpace), ""))
	for _, unit := range unitTokens {
		if strings.HasSuffix(s, unit) {
			s = strings.TrimSuffix(s, unit)
			break
		}
	}
	if s == "" {
		return 0
	}

	m := magnitudeRe.FindStringSubmatch(s)
	if m == nil || m[2] == "" {
		return parseCount(s)
	}

	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * magnitudeFactor[m[2]]))
}

// ParseRank reads an explicit rank cell, falling back to the row position.
func ParseRank(raw string, position int) int {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "#")))
	if err != nil || n <= 0 {
		return position
	}
	return n
}

// parseCount reads a bare count; commas are thousands separators and any
// fraction is truncated.
func parseCount(s string) int64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(v)
}
