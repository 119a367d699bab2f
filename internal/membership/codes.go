package membership

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Generation alphabet omits easily confused characters (0/O, 1/I/L).
// Validation still accepts the full uppercase alphanumeric class since codes
// are typed by hand.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	householdCodeLen = 6
	suffixLen        = 3
)

var (
	householdCodeRe  = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	invitationCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}-[A-Z0-9]{3,}$`)
	suffixRe         = regexp.MustCompile(`^[A-Z0-9]{1,3}$`)
)

func generateHouseholdCode() (string, error) {
	var b strings.Builder
	for i := 0; i < householdCodeLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate household code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// normalizeCode uppercases and trims user-typed code input.
func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// validHouseholdCode reports whether s is a household code: exactly six
// uppercase alphanumerics, no separator. Anything containing a dash is an
// invitation code, not a household code.
func validHouseholdCode(s string) bool {
	return householdCodeRe.MatchString(s)
}

// validInvitationCode reports whether s is an invitation code:
// {householdCode}-{suffix}. The dash is what distinguishes the two code
// kinds on input.
func validInvitationCode(s string) bool {
	return invitationCodeRe.MatchString(s)
}

// deriveSuffix builds the invitation code suffix from a member name: the
// first three alphanumeric characters, uppercased, padded with X.
func deriveSuffix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == suffixLen {
				break
			}
		}
	}
	for b.Len() < suffixLen {
		b.WriteByte('X')
	}
	return b.String()
}

// pickSuffix returns base if it is free within the household, otherwise the
// first free numbered variant (SAM, SAM2, SAM3, ...).
func pickSuffix(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		s := fmt.Sprintf("%s%d", base, n)
		if !taken[s] {
			return s
		}
	}
}

func invitationCode(householdCode, suffix string) string {
	return householdCode + "-" + suffix
}

// suffixOf strips the household prefix from an invitation code.
func suffixOf(code string) string {
	if i := strings.IndexByte(code, '-'); i >= 0 {
		return code[i+1:]
	}
	return code
}
