// Package user is a read-only view of the accounts owned by the CRUD layer.
package user

import (
	"errors"
	"strings"
)

var ErrNotFound = errors.New("user not found")

// User is the subset of an account the messaging fabric needs.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func displayName(name, first, last string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
