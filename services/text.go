package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const maxNicknameRunes = 32

// CleanNickname trims, collapses inner whitespace and composes the nickname
// for display.
func CleanNickname(s string) string {
	return norm.NFC.String(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

// NicknameKey is the form nickname uniqueness is checked on: compatibility
// decomposed, width folded and case folded, without spaces. "ＴＡＲＯ", "Taro"
// and "t a r o" share one key.
func NicknameKey(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), "")
}

// SearchKey is an ASCII transliteration used for search ("山田" matches "shan tian").
func SearchKey(s string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(width.Fold.String(s))))
}

// Slugify turns a name into a URL slug, falling back when nothing survives.
func Slugify(s, fallback string) string {
	if out := slug.Make(s); out != "" {
		return out
	}
	return fallback
}

func validateNickname(nick string) error {
	n := utf8.RuneCountInString(nick)
	if n == 0 {
		return invalid(ErrInvalidInput, "nickname is required")
	}
	if n > maxNicknameRunes {
		return invalid(ErrInvalidInput, "nickname longer than %d characters", maxNicknameRunes)
	}
	if NicknameKey(nick) == "" {
		return invalid(ErrInvalidInput, "nickname has no visible characters")
	}
	return nil
}
