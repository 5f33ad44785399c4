package feed

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 100

// Slugify converts arbitrary text into a lowercase URL-safe slug:
// diacritics stripped, non-alphanumeric runs collapsed to single hyphens
func Slugify(text string) string {
	text = stripDiacritics(text)
	text = strings.ToLower(text)

	var b strings.Builder
	pendingHyphen := false
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingHyphen = false
		} else {
			pendingHyphen = true
		}
	}

	return b.String()
}

func stripDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return result
}

// GenerateSlug returns a slug derived from the first candidate that
// slugifies to something non-empty, made unique against the taken oracle
// by appending a numeric suffix. The result never exceeds 100 characters;
// the base is truncated to make room for the suffix when needed.
func GenerateSlug(taken func(slug string) (bool, error), candidates ...string) (string, error) {
	base := ""
	for _, candidate := range candidates {
		if slug := Slugify(candidate); slug != "" {
			base = slug
			break
		}
	}
	if base == "" {
		base = "untitled"
	}
	if len(base) > maxSlugLength {
		base = strings.TrimRight(base[:maxSlugLength], "-")
	}

	inUse, err := taken(base)
	if err != nil {
		return "", fmt.Errorf("failed to check slug '%s': %w", base, err)
	}
	if !inUse {
		return base, nil
	}

	for i := 1; ; i++ {
		suffix := fmt.Sprintf("-%d", i)
		slug := base
		if len(slug)+len(suffix) > maxSlugLength {
			slug = strings.TrimRight(slug[:maxSlugLength-len(suffix)], "-")
		}
		slug += suffix

		inUse, err := taken(slug)
		if err != nil {
			return "", fmt.Errorf("failed to check slug '%s': %w", slug, err)
		}
		if !inUse {
			return slug, nil
		}
	}
}
