package service

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 10

type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	// Compared against for unknown emails so sign-in timing does not reveal which accounts exist.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	return &PasswordHasher{cost: cost, dummyHash: dummy}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h *PasswordHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

func (h *PasswordHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// ValidatePasswordPolicy requires at least minPasswordLength characters with a letter and a digit.
func ValidatePasswordPolicy(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: at least %d characters", ErrPasswordPolicy, minPasswordLength)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("%w: must contain a letter and a digit", ErrPasswordPolicy)
	}
	return nil
}
