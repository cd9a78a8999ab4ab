package listing

import (
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/mops-cli/internal/model"
)

// DefaultEncodings is the decode order for listing pages: the portal's
// legacy Big5 first, then modern fallbacks.
var DefaultEncodings = []string{"big5", "utf-8", "gbk"}

// DefaultMaxInvalidRatio is the largest share of replacement characters
// among the non-ASCII runes of a decode that is still accepted.
const DefaultMaxInvalidRatio = 0.01

// CheckEncodings reports the first name htmlindex does not know as a
// configuration error.
func CheckEncodings(names []string) error {
	for _, name := range names {
		if _, err := htmlindex.Get(name); err != nil {
			return model.NewError(model.ErrConfiguration, eris.Wrapf(err, "listing: unknown encoding %q", name))
		}
	}
	return nil
}

// Decode tries each encoding in order and returns the first decoding whose
// share of U+FFFD among its non-ASCII runes stays under maxInvalid. It never returns garbled
// text: when every attempt fails the result is a parse error.
func Decode(body []byte, encodings []string, maxInvalid float64) (string, string, error) {
	if len(encodings) == 0 {
		encodings = DefaultEncodings
	}

	for _, name := range encodings {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return "", "", model.NewError(model.ErrConfiguration, eris.Wrapf(err, "listing: unknown encoding %q", name))
		}
		out, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			continue
		}
		text := string(out)
		if acceptable(text, maxInvalid) {
			return text, name, nil
		}
	}
	return "", "", model.Errorf(model.ErrParse, "listing: no encoding in %v decoded cleanly", encodings)
}

// acceptable ignores ASCII runes: markup decodes the same under every
// candidate encoding and would dilute the ratio.
func acceptable(text string, maxInvalid float64) bool {
	total, invalid := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			continue
		}
		total++
		if r == utf8.RuneError {
			invalid++
		}
	}
	if invalid == 0 {
		return true
	}
	return float64(invalid)/float64(total) < maxInvalid
}
