// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"bufio"
	"embed"
	"fmt"
	"strings"
	"unicode"
)

//go:embed common_passwords.txt
var commonPasswordsFS embed.FS

var commonPasswords = loadCommonPasswords()

func loadCommonPasswords() map[string]struct{} {
	set := make(map[string]struct{})
	file, err := commonPasswordsFS.Open("common_passwords.txt")
	if err != nil {
		return set
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pw := strings.ToLower(strings.TrimSpace(scanner.Text())); pw != "" {
			set[pw] = struct{}{}
		}
	}
	return set
}

// Violation codes reported by PasswordPolicy.Check.
const (
	ViolationTooShort      = "too_short"
	ViolationTooLong       = "too_long"
	ViolationNumeric       = "entirely_numeric"
	ViolationCommon        = "common_password"
	ViolationLikeAttribute = "too_similar"
)

// Violation is one broken password rule.
type Violation struct {
	Code    string
	Message string
}

// MemberAttributes are the values a password must not resemble.
type MemberAttributes struct {
	Email    string
	ZID      string
	FullName string
}

// words splits the attributes into the fragments a password is compared
// against: the whole values, the email local part and every name part.
func (a MemberAttributes) words() []string {
	out := []string{a.Email, a.ZID, a.FullName}
	if local, _, ok := strings.Cut(a.Email, "@"); ok {
		out = append(out, local)
	}
	out = append(out, strings.Fields(a.FullName)...)
	return out
}

// PasswordPolicy is the rule set for member passwords.
type PasswordPolicy struct {
	MinLength int // runes
	MaxBytes  int // bcrypt only reads the first 72 bytes
	// MinFragment is the shortest attribute fragment that may not appear
	// inside a password.
	MinFragment int
	// MaxSimilarity is the highest allowed LCS ratio between the password
	// and an attribute.
	MaxSimilarity float64
}

// DefaultPasswordPolicy returns the policy used for registration.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:     8,
		MaxBytes:      72,
		MinFragment:   3,
		MaxSimilarity: 0.7,
	}
}

// Check returns every rule the password breaks. An empty result means the
// password is acceptable.
func (p *PasswordPolicy) Check(password string, attrs MemberAttributes) []Violation {
	var out []Violation
	add := func(code, msg string) { out = append(out, Violation{Code: code, Message: msg}) }

	if n := len([]rune(password)); n < p.MinLength {
		add(ViolationTooShort, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
	}
	if p.MaxBytes > 0 && len(password) > p.MaxBytes {
		add(ViolationTooLong, fmt.Sprintf("Password must be at most %d bytes long", p.MaxBytes))
	}
	if password != "" && strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		add(ViolationNumeric, "Password cannot be entirely numeric")
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		add(ViolationCommon, "Password is too common")
	}
	if p.resembles(password, attrs) {
		add(ViolationLikeAttribute, "Password is too similar to your name, zID or email")
	}
	return out
}

func (p *PasswordPolicy) resembles(password string, attrs MemberAttributes) bool {
	pw := strings.ToLower(password)
	for _, word := range attrs.words() {
		word = strings.ToLower(word)
		if len(word) < p.MinFragment {
			continue
		}
		if strings.Contains(pw, word) || strings.Contains(word, pw) {
			return true
		}
		if similarity(pw, word) > p.MaxSimilarity {
			return true
		}
	}
	return false
}

// similarity is the length of the longest common subsequence relative to
// the longer string.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	// Two rows of the LCS table are enough.
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return float64(prev[len(b)]) / float64(max(len(a), len(b)))
}
