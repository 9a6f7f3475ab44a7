//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// race builds run the suites much slower, keep hashing cheap there
func passwordHashCost() int {
	return bcrypt.MinCost
}
