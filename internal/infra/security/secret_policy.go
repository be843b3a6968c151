package security

import (
	"fmt"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	defaultMinSecretLength     = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// SecretPolicyError represents a single secret policy violation.
type SecretPolicyError struct {
	Code    string
	Message string
}

// Error implements error for SecretPolicyError.
func (e *SecretPolicyError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// SecretRule validates a candidate secret according to one policy rule.
type SecretRule interface {
	Validate(secret string) error
}

// SecretRuleFunc adapts a function to be used as a SecretRule.
type SecretRuleFunc func(secret string) error

// Validate executes the underlying rule function.
func (f SecretRuleFunc) Validate(secret string) error {
	return f(secret)
}

// SecretPolicy applies a sequence of secret rules and stops at the first
// violation.
type SecretPolicy struct {
	rules []SecretRule
}

// NewSecretPolicy constructs a policy with the provided rules.
func NewSecretPolicy(rules ...SecretRule) *SecretPolicy {
	copied := make([]SecretRule, len(rules))
	copy(copied, rules)
	return &SecretPolicy{rules: copied}
}

// DefaultSecretPolicy enforces length, character class, and zxcvbn strength
// checks. userInputs (handle, contact address) are fed to the strength
// estimator so secrets derived from them score low.
func DefaultSecretPolicy(userInputs ...string) *SecretPolicy {
	return NewSecretPolicy(
		MinLengthRule(defaultMinSecretLength),
		RequireCharacterClassesRule(defaultMinCharacterClasses),
		RequireStrengthRule(defaultMinZxcvbnScore, userInputs...),
	)
}

// Validate executes all rules and returns the first encountered violation.
func (p *SecretPolicy) Validate(secret string) error {
	if p == nil {
		return fmt.Errorf("secret policy not configured")
	}
	for _, rule := range p.rules {
		if err := rule.Validate(secret); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule ensures the secret has at least min characters.
func MinLengthRule(min int) SecretRule {
	return SecretRuleFunc(func(secret string) error {
		if len([]rune(secret)) < min {
			return &SecretPolicyError{
				Code:    "min_length",
				Message: fmt.Sprintf("secret must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// RequireCharacterClassesRule ensures the secret contains characters from at
// least min distinct classes (upper, lower, digit, symbol).
func RequireCharacterClassesRule(min int) SecretRule {
	return SecretRuleFunc(func(secret string) error {
		if min <= 0 {
			return nil
		}

		var hasUpper, hasLower, hasDigit, hasSymbol bool
		for _, r := range secret {
			switch {
			case unicode.IsUpper(r):
				hasUpper = true
			case unicode.IsLower(r):
				hasLower = true
			case unicode.IsDigit(r):
				hasDigit = true
			case unicode.IsSymbol(r) || unicode.IsPunct(r):
				hasSymbol = true
			}
		}

		classes := 0
		for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
			if present {
				classes++
			}
		}

		if classes >= min {
			return nil
		}

		return &SecretPolicyError{
			Code:    "character_classes",
			Message: fmt.Sprintf("secret must include at least %d character types", min),
		}
	})
}

// RequireStrengthRule enforces a minimum zxcvbn score to reject weak secrets.
func RequireStrengthRule(minScore int, userInputs ...string) SecretRule {
	return SecretRuleFunc(func(secret string) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		result := zxcvbn.PasswordStrength(secret, userInputs)
		if result.Score >= minScore {
			return nil
		}

		return &SecretPolicyError{
			Code:    "weak_secret",
			Message: "secret is too weak; choose a more complex value",
		}
	})
}
