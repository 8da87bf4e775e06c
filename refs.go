package arxiv

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// arXiv ID patterns:
// - New format: YYMM.NNNNN (e.g., 2301.00001, 2301.12345v2)
// - Old format: archive/YYMMNNN (e.g., hep-th/9901001)
var arxivIDPatterns = []*regexp.Regexp{
	// arXiv:YYMM.NNNNN or arXiv:YYMM.NNNNNvN (case insensitive)
	regexp.MustCompile(`(?i)arXiv[:\s]+(\d{4}\.\d{4,5}(?:v\d+)?)`),
	// arxiv.org/abs/YYMM.NNNNN and arxiv.org/pdf/YYMM.NNNNN
	regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5}(?:v\d+)?)`),
	// Old format: arXiv:hep-th/9901001
	regexp.MustCompile(`(?i)arXiv[:\s]+([a-z-]+(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?)`),
	// arxiv.org/abs/hep-th/9901001
	regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/([a-z-]+(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?)`),
}

var (
	bareNewID = regexp.MustCompile(`^\d{4}\.\d{4,5}(?:v\d+)?$`)
	bareOldID = regexp.MustCompile(`^[a-zA-Z-]+(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?$`)
)

// ValidID reports whether id looks like an arXiv identifier without
// version suffix: shorter than 20 characters, starting with a digit or a
// lowercase letter and made of [0-9a-z./-].
func ValidID(id string) bool {
	if id == "" || len(id) >= 20 {
		return false
	}
	first := id[0]
	if !(first >= '0' && first <= '9') && !(first >= 'a' && first <= 'z') {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c == '.', c == '/', c == '-':
		default:
			return false
		}
	}
	return true
}

// ParseID validates id and strips a version suffix if present.
func ParseID(id string) (string, error) {
	base, _, err := ParseIDWithVersion(id)
	return base, err
}

// ParseIDWithVersion splits "2301.00001v3" into ("2301.00001", 3). The
// version is 0 when absent. An "arXiv:" prefix is accepted.
func ParseIDWithVersion(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if len(s) > 6 && strings.EqualFold(s[:6], "arxiv:") {
		s = s[6:]
	}
	// Old-style ids are sometimes cited with their subject class
	// ("math.CO/0102001"); the identifier is "math/0102001".
	if archive, num, ok := strings.Cut(s, "/"); ok {
		if i := strings.IndexByte(archive, '.'); i > 0 {
			archive = archive[:i]
		}
		s = strings.ToLower(archive) + "/" + num
	}
	base, version := splitVersion(s)
	if !ValidID(base) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return base, version, nil
}

func splitVersion(id string) (string, int) {
	idx := strings.LastIndex(id, "v")
	if idx <= 0 {
		return id, 0
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil || n < 1 || strings.ContainsAny(id[idx+1:], "+-") {
		return id, 0
	}
	return id[:idx], n
}

// looksLikeID reports whether s is a bare new- or old-style identifier,
// optionally prefixed with "arXiv:".
func looksLikeID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) > 6 && strings.EqualFold(s[:6], "arxiv:") {
		s = s[6:]
	}
	return bareNewID.MatchString(s) || bareOldID.MatchString(s)
}

// FindID extracts the first arXiv identifier mentioned in text, with the
// version if one is given.
func FindID(text string) (string, int, bool) {
	if looksLikeID(text) {
		id, v, err := ParseIDWithVersion(text)
		return id, v, err == nil
	}
	for _, pat := range arxivIDPatterns {
		if m := pat.FindStringSubmatch(text); len(m) > 1 {
			if id, v, err := ParseIDWithVersion(m[1]); err == nil {
				return id, v, true
			}
		}
	}
	return "", 0, false
}
