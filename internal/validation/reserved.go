package validation

import (
	"errors"
	"strings"
)

// ErrReservedUsername is returned for names that collide with routes or system accounts.
var ErrReservedUsername = errors.New("username is reserved")

var reservedUsernames = map[string]struct{}{
	"admin":        {},
	"api":          {},
	"auth":         {},
	"authenticate": {},
	"index":        {},
	"login":        {},
	"logout":       {},
	"metrics":      {},
	"posts":        {},
	"register":     {},
	"root":         {},
	"swagger":      {},
	"system":       {},
	"uploads":      {},
	"ws":           {},
}

// IsReservedUsername reports whether name is blocked for registration, case-insensitively.
func IsReservedUsername(name string) bool {
	_, ok := reservedUsernames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
