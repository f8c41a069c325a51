package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 10

var (
	ErrPasswordTooShort      = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordMissingUpper  = errors.New("password must contain an uppercase letter")
	ErrPasswordMissingLower  = errors.New("password must contain a lowercase letter")
	ErrPasswordMissingDigit  = errors.New("password must contain a digit")
	ErrPasswordMissingSymbol = errors.New("password must contain a special character")
)

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return ErrPasswordMissingUpper
	case !lower:
		return ErrPasswordMissingLower
	case !digit:
		return ErrPasswordMissingDigit
	case !symbol:
		return ErrPasswordMissingSymbol
	}
	return nil
}
