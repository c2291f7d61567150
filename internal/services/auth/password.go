// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"bufio"
	"embed"
	"fmt"
	"strings"
	"unicode"

	"github.com/taskdeck/taskdeck/internal/apperr"
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
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if p := strings.ToLower(strings.TrimSpace(scanner.Text())); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// PasswordValidator checks new passwords.
type PasswordValidator struct {
	MinLength            int
	CheckCommonPasswords bool
	CheckUserSimilarity  bool
}

// DefaultPasswordValidator requires six characters and rejects common or
// personal passwords.
func DefaultPasswordValidator() *PasswordValidator {
	return &PasswordValidator{
		MinLength:            6,
		CheckCommonPasswords: true,
		CheckUserSimilarity:  true,
	}
}

// Validate returns one message per failed rule, empty when password is
// acceptable. userAttributes are values the password must not resemble.
func (v *PasswordValidator) Validate(password string, userAttributes ...string) []apperr.FieldError {
	var problems []string

	if len([]rune(password)) < v.MinLength {
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters", v.MinLength))
	}
	if isEntirelyNumeric(password) {
		problems = append(problems, "Password cannot be entirely numeric")
	}
	if v.CheckCommonPasswords && isCommonPassword(password) {
		problems = append(problems, "Password is too common")
	}
	if v.CheckUserSimilarity && isSimilarToUserAttributes(password, userAttributes) {
		problems = append(problems, "Password is too similar to your personal information")
	}

	fields := make([]apperr.FieldError, len(problems))
	for i, msg := range problems {
		fields[i] = apperr.FieldError{Field: "password", Message: msg}
	}
	return fields
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return password != ""
}

func isCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}

// isSimilarToUserAttributes ignores attributes shorter than three runes,
// which would match almost any password.
func isSimilarToUserAttributes(password string, attributes []string) bool {
	pw := strings.ToLower(password)

	for _, attr := range attributes {
		a := strings.ToLower(strings.TrimSpace(attr))
		if len([]rune(a)) < 3 || pw == "" {
			continue
		}
		if strings.Contains(pw, a) || strings.Contains(a, pw) || similarity(pw, a) > 0.7 {
			return true
		}
	}

	return false
}

// similarity is the longest common subsequence relative to the longer input.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return float64(prev[len(b)]) / float64(max(len(a), len(b)))
}
