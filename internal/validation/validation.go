// Package validation holds pure predicates and sanitizers for user input.
// Every function is total: bad input yields false (or a sanitized string),
// never an error or a panic.
package validation

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	emailPattern    = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")
	passwordCharset = regexp.MustCompile(`^[A-Za-z0-9@$!%*?&]{8,}$`)
	nameToken       = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ]+$`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	phoneStrip      = strings.NewReplacer(" ", "", "(", "", ")", "", "-", "", ".", "")
	htmlEscaper     = strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#x27;", "/", "&#x2F;")
)

// IsValidEmail checks the address shape. A local part starting with a dot
// is refused.
func IsValidEmail(s string) bool {
	if strings.HasPrefix(s, ".") {
		return false
	}
	return emailPattern.MatchString(s)
}

// IsStrongPassword requires 8+ chars drawn from [A-Za-z0-9@$!%*?&] with at
// least one lowercase, uppercase, digit and special character.
func IsStrongPassword(s string) bool {
	if !passwordCharset.MatchString(s) {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}

// IsValidName wants at least a first and a last name.
func IsValidName(s string) bool {
	tokens := strings.Fields(s)
	if len(tokens) < 2 {
		return false
	}
	for _, tok := range tokens {
		if !nameToken.MatchString(tok) {
			return false
		}
	}
	return true
}

// IsValidCPF checks an 11-digit CPF, punctuation ignored. The first check
// digit weighs the nine base digits 10 down to 2, the second weighs the ten
// leading digits 11 down to 2. A remainder mod 11 below 2 gives 0, otherwise
// 11 minus the remainder. Repeated digits such as 111.111.111-11 are refused.
func IsValidCPF(s string) bool {
	d := digits(s)
	if len(d) != 11 || allSame(d) {
		return false
	}
	return checkDigit(d[:9], descending(10)) == d[9] &&
		checkDigit(d[:10], descending(11)) == d[10]
}

// IsValidCNPJ checks a 14-digit CNPJ, punctuation ignored. Both check digits
// use weights cycling 2..9 from the rightmost digit leftwards, over the 12
// and then 13 leading digits, with the same mod 11 rule as CPF.
func IsValidCNPJ(s string) bool {
	d := digits(s)
	if len(d) != 14 || allSame(d) {
		return false
	}
	return checkDigit(d[:12], cyclic(12)) == d[12] &&
		checkDigit(d[:13], cyclic(13)) == d[13]
}

// checkDigit is the mod-11 check digit of d under weights.
func checkDigit(d []int, weights []int) int {
	sum := 0
	for i, v := range d {
		sum += v * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// descending returns from, from-1, ..., 2.
func descending(from int) []int {
	w := make([]int, 0, from-1)
	for i := from; i >= 2; i-- {
		w = append(w, i)
	}
	return w
}

// cyclic returns n weights that run 2..9 from the rightmost digit.
func cyclic(n int) []int {
	w := make([]int, n)
	for i := 0; i < n; i++ {
		w[n-1-i] = 2 + i%8
	}
	return w
}

func digits(s string) []int {
	var out []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, int(r-'0'))
		}
	}
	return out
}

func allSame(d []int) bool {
	for _, v := range d[1:] {
		if v != d[0] {
			return false
		}
	}
	return true
}

// IsValidPhoneNumber accepts Brazilian landline and mobile numbers with
// optional country code and common punctuation.
func IsValidPhoneNumber(s string) bool {
	p := phoneStrip.Replace(strings.TrimSpace(s))
	p = strings.TrimPrefix(p, "+")
	if len(p) < 10 || len(p) > 13 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsValidURL accepts absolute http and https URLs with a host.
func IsValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsValidDate accepts YYYY-MM-DD naming a real calendar day.
func IsValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// IsMinimumAge reports whether someone born on birthdate is at least years
// old at now. An invalid birthdate is never old enough.
func IsMinimumAge(birthdate string, years int, now time.Time) bool {
	if !IsValidDate(birthdate) {
		return false
	}
	b, _ := time.Parse(time.DateOnly, birthdate)
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age >= years
}

// SanitizeInput trims s and escapes < > " ' / as HTML entities.
func SanitizeInput(s string) string {
	return htmlEscaper.Replace(strings.TrimSpace(s))
}

// FileMeta describes a file chosen for upload.
type FileMeta struct {
	Name string
	Type string
	Size int64
}

// IsValidFileType matches the MIME type against allowed. Entries ending in
// "/*" match any subtype.
func IsValidFileType(f FileMeta, allowed []string) bool {
	mime := strings.ToLower(strings.TrimSpace(f.Type))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == mime {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mime, prefix+"/") {
			return true
		}
	}
	return false
}

// IsValidFileSize reports whether f fits in maxMB megabytes (1 MB = 1024*1024
// bytes).
func IsValidFileSize(f FileMeta, maxMB float64) bool {
	return f.Size >= 0 && float64(f.Size) <= maxMB*1024*1024
}

// IsBlank reports whether s has no visible characters.
func IsBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
