// Package otp generates and validates six-digit one-time passcodes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
)

// Length is the number of digits in a passcode
const Length = 6

const (
	minCode = 100000
	spread  = 900000
)

// Generator produces a fresh passcode
type Generator func() (string, error)

// Generate returns a cryptographically random code in 100000-999999
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(spread))
	if err != nil {
		return "", fmt.Errorf("failed to generate secure random number: %w", err)
	}
	return fmt.Sprintf("%0*d", Length, n.Int64()+minCode), nil
}

// Rules is the validator tag describing a passcode: exactly six ASCII digits
const Rules = "required,number,len=6"

var validate = validator.New()

// Valid reports whether code has the passcode shape
func Valid(code string) bool {
	return validate.Var(code, Rules) == nil
}
