// Package text provides the text normalization applied to spoken text
// before it reaches the synthesis engine.
//
// The normalizer targets text that was written to be read rather than heard:
// chat-style markdown, emojis, abbreviations and digits. URLs and email
// addresses pass through unchanged.
package text

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords represents the maximum number that can be converted to words.
	MaxNumberForWords = 999999
)

// Regex patterns for markdown and token handling.
const (
	codeFencePattern  = "(?s)```.*?```"
	inlineCodePattern = "`([^`]*)`"
	linkPattern       = `\[([^\]]*)\]\([^)]*\)`
	headingPattern    = `(?m)^[ \t]*#{1,6}[ \t]+`
	bulletPattern     = `(?m)^[ \t]*[-*+][ \t]+`
	boldStarPattern   = `\*\*(.+?)\*\*`
	boldUnderPattern  = `__(.+?)__`
	italicPattern     = `\*([^*\s][^*]*?)\*`
	urlPattern        = `https?://\S+`
	emailPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberPattern     = `\d+`
	whitespacePattern = `\s+`
)

// Placeholders use private-use runes so that later passes (digits,
// punctuation) cannot touch them.
const (
	placeholderMark = '\uE000'
	placeholderBase = 0xE100
)

// Normalizer rewrites text for speech.
type Normalizer struct {
	codeFence  *regexp.Regexp
	inlineCode *regexp.Regexp
	link       *regexp.Regexp
	heading    *regexp.Regexp
	bullet     *regexp.Regexp
	boldStar   *regexp.Regexp
	boldUnder  *regexp.Regexp
	italic     *regexp.Regexp
	url        *regexp.Regexp
	email      *regexp.Regexp
	number     *regexp.Regexp
	whitespace *regexp.Regexp

	abbreviations *strings.Replacer
	punctuation   *strings.Replacer
	numbers       *numberConverter
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		codeFence:  regexp.MustCompile(codeFencePattern),
		inlineCode: regexp.MustCompile(inlineCodePattern),
		link:       regexp.MustCompile(linkPattern),
		heading:    regexp.MustCompile(headingPattern),
		bullet:     regexp.MustCompile(bulletPattern),
		boldStar:   regexp.MustCompile(boldStarPattern),
		boldUnder:  regexp.MustCompile(boldUnderPattern),
		italic:     regexp.MustCompile(italicPattern),
		url:        regexp.MustCompile(urlPattern),
		email:      regexp.MustCompile(emailPattern),
		number:     regexp.MustCompile(numberPattern),
		whitespace: regexp.MustCompile(whitespacePattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
			"e.g.", "for example",
			"i.e.", "that is",
			"etc.", "et cetera",
		),
		punctuation: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		numbers: newNumberConverter(),
	}
}

// Normalize runs the full pipeline. Empty input returns empty output.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	// Code blocks are not meant to be read aloud; links read as their label.
	text = n.codeFence.ReplaceAllString(text, " ")
	text = n.link.ReplaceAllString(text, "$1")

	text, placeholders := n.preserveTokens(text)

	text = n.stripMarkdown(text)
	text = removeEmojis(text)
	text = n.abbreviations.Replace(text)
	text = n.normalizeNumbers(text)
	text = n.punctuation.Replace(text)
	text = strings.TrimSpace(n.whitespace.ReplaceAllString(text, " "))

	return restoreTokens(text, placeholders)
}

func (n *Normalizer) stripMarkdown(text string) string {
	text = n.inlineCode.ReplaceAllString(text, "$1")
	text = n.heading.ReplaceAllString(text, "")
	text = n.bullet.ReplaceAllString(text, "")
	text = n.boldStar.ReplaceAllString(text, "$1")
	text = n.boldUnder.ReplaceAllString(text, "$1")

	return n.italic.ReplaceAllString(text, "$1")
}

// normalizeNumbers finds all integers in the text and converts them to words.
func (n *Normalizer) normalizeNumbers(text string) string {
	return n.number.ReplaceAllStringFunc(text, func(digits string) string {
		value, err := strconv.Atoi(digits)
		if err != nil {
			return digits
		}

		return n.numbers.toWords(value)
	})
}

// preserveTokens swaps URLs and emails for placeholders.
func (n *Normalizer) preserveTokens(text string) (string, []string) {
	var originals []string

	for _, pattern := range []*regexp.Regexp{n.url, n.email} {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			placeholder := placeholderFor(len(originals))
			originals = append(originals, match)

			return placeholder
		})
	}

	return text, originals
}

func restoreTokens(text string, originals []string) string {
	for index, original := range originals {
		text = strings.Replace(text, placeholderFor(index), original, 1)
	}

	return text
}

func placeholderFor(index int) string {
	return string([]rune{placeholderMark, rune(placeholderBase + index), placeholderMark})
}

func removeEmojis(text string) string {
	return strings.Map(func(char rune) rune {
		if isEmoji(char) {
			return -1
		}

		return char
	}, text)
}

func isEmoji(char rune) bool {
	switch {
	case char >= 0x1F000 && char <= 0x1FAFF:
		return true
	case char >= 0x2600 && char <= 0x27BF:
		return true
	case char == 0xFE0F || char == 0x200D:
		return true
	default:
		return false
	}
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

// toWords converts an integer into English words. Values outside
// [0, MaxNumberForWords] are returned as digits.
func (nc *numberConverter) toWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	thousands := number / NumberBaseThousand
	if thousands > 0 {
		parts = append(parts, nc.underThousand(thousands)+" thousand")
	}

	remainder := number % NumberBaseThousand
	if remainder > 0 {
		parts = append(parts, nc.underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func (nc *numberConverter) underThousand(number int) string {
	hundreds := number / NumberBaseHundred
	remainder := number % NumberBaseHundred

	switch {
	case hundreds == 0:
		return nc.underHundred(remainder)
	case remainder == 0:
		return nc.ones[hundreds] + " hundred"
	default:
		return nc.ones[hundreds] + " hundred " + nc.underHundred(remainder)
	}
}

func (nc *numberConverter) underHundred(number int) string {
	switch {
	case number < NumberBaseTen:
		return nc.ones[number]
	case number < NumberBaseTwenty:
		return nc.teens[number-NumberBaseTen]
	case number%NumberBaseTen == 0:
		return nc.tens[number/NumberBaseTen]
	default:
		return nc.tens[number/NumberBaseTen] + " " + nc.ones[number%NumberBaseTen]
	}
}
