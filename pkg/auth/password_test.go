package auth

import (
	"errors"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "not-a-hash") {
		t.Fatalf("expected malformed hash to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{password: "Str0ng#Password!", want: nil},
		{password: "short1!A", want: ErrPasswordTooShort},
		{password: "alllowercase123!", want: ErrPasswordMissingUpper},
		{password: "ALLUPPERCASE123!", want: ErrPasswordMissingLower},
		{password: "NoDigitsHere!!!", want: ErrPasswordMissingDigit},
		{password: "NoSpecials1234", want: ErrPasswordMissingSymbol},
	}
	for _, tc := range tests {
		if err := ValidatePassword(tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, err, tc.want)
		}
	}
}
