// Package rewrite builds the final Location URL from a destination and
// the request suffix. Humans keep their suffix byte-for-byte (after one
// URL-decode); bots get every embedded email scrubbed out. The rewriter
// never touches the destination's scheme or host.
package rewrite

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
)

// Email shape accepted in suffixes. Deliberately looser than RFC 5322;
// it has to match what senders actually embed in links.
var emailRegex = regexp.MustCompile(`[A-Za-z0-9._-]+@[A-Za-z0-9._-]+\.[A-Za-z0-9_-]+`)

var (
	doubleAmp  = regexp.MustCompile(`&&+`)
	emptyParam = regexp.MustCompile(`([?&#])[A-Za-z0-9_.~-]*=(?:(&)|$)`)
)

// Parameter formats recorded alongside a captured email.
const (
	FormatQuery    = "query"
	FormatFragment = "fragment"
	FormatDollar   = "dollar"
	FormatStar     = "star"
	FormatPath     = "path"
)

// Result of a rewrite.
type Result struct {
	Destination     string
	Suffix          string // decoded suffix as sent to the destination
	CapturedEmail   string // first email found; meaningful for HUMAN only
	ParameterFormat string
}

// Rewriter holds the one tuning knob: opportunistic Base64 decoding of
// long suffix tokens, off by default because it can false-positive.
type Rewriter struct {
	decodeBase64 bool
}

// New builds a Rewriter.
func New(decodeBase64 bool) *Rewriter {
	return &Rewriter{decodeBase64: decodeBase64}
}

// SplitID separates the redirect id from its suffix. raw is everything
// after "/r/" including any query string; the suffix begins at the first
// of '$', '*', '?', '#'.
func SplitID(raw string) (id, suffix string) {
	idx := strings.IndexAny(raw, "$*?#")
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], raw[idx:]
}

// Rewrite joins the (possibly scrubbed) suffix onto destination.
func (rw *Rewriter) Rewrite(destination, suffix string, bot bool) Result {
	decoded := decodeOnce(suffix)
	emails := rw.findEmails(decoded)

	res := Result{ParameterFormat: formatOf(decoded)}
	if len(emails) > 0 {
		res.CapturedEmail = emails[0]
	}

	out := decoded
	if bot {
		out = scrub(decoded, emails)
		res.CapturedEmail = ""
	}

	res.Suffix = out
	res.Destination = join(destination, out)
	return res
}

// FindEmails exposes suffix email extraction for logging paths.
func (rw *Rewriter) FindEmails(suffix string) []string {
	return rw.findEmails(decodeOnce(suffix))
}

func decodeOnce(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func (rw *Rewriter) findEmails(decoded string) []string {
	seen := make(map[string]bool)
	var emails []string
	add := func(matches []string) {
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				emails = append(emails, m)
			}
		}
	}

	add(emailRegex.FindAllString(decoded, -1))

	if rw.decodeBase64 {
		// '=' joins the separator set here so "key=<token>" yields the
		// bare token.
		for _, token := range strings.FieldsFunc(decoded, func(r rune) bool {
			return strings.ContainsRune("$*?&#=", r)
		}) {
			if len(token) < 20 {
				continue
			}
			if plain, ok := tryBase64(token); ok {
				add(emailRegex.FindAllString(plain, -1))
			}
		}
	}
	return emails
}

func tryBase64(token string) (string, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(token); err == nil {
			return string(data), true
		}
	}
	return "", false
}

// scrub removes every email occurrence and normalizes the leftovers.
// Running scrub over its own output is a no-op.
func scrub(decoded string, emails []string) string {
	out := decoded
	for _, e := range emails {
		out = strings.ReplaceAll(out, e, "")
	}

	out = doubleAmp.ReplaceAllString(out, "&")
	// Dropping an email can leave dangling "key=&" or a trailing "key=".
	for {
		next := emptyParam.ReplaceAllString(out, "$1$2")
		next = doubleAmp.ReplaceAllString(next, "&")
		if next == out {
			break
		}
		out = next
	}
	out = strings.Replace(out, "?&", "?", 1)
	out = strings.TrimRight(out, "?&")
	if out == "#" || out == "$" || out == "*" {
		out = ""
	}
	return out
}

func formatOf(suffix string) string {
	if suffix == "" {
		return ""
	}
	switch suffix[0] {
	case '?':
		return FormatQuery
	case '#':
		return FormatFragment
	case '$':
		return FormatDollar
	case '*':
		return FormatStar
	default:
		return FormatPath
	}
}

// join attaches suffix to destination by prefix kind. '?' merges with an
// existing query, '#' replaces the fragment, and anything else is
// concatenated after a guaranteed trailing slash so "$user@host" tails
// cannot be parsed as URL userinfo.
func join(destination, suffix string) string {
	if suffix == "" {
		return destination
	}
	switch suffix[0] {
	case '?':
		rest := suffix[1:]
		if rest == "" {
			return destination
		}
		if strings.Contains(destination, "?") {
			return destination + "&" + rest
		}
		return destination + "?" + rest
	case '#':
		if idx := strings.Index(destination, "#"); idx >= 0 {
			destination = destination[:idx]
		}
		return destination + suffix
	default:
		if !strings.HasSuffix(destination, "/") {
			destination += "/"
		}
		return destination + suffix
	}
}
