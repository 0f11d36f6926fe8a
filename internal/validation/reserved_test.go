package validation

import "testing"

func TestIsReservedUsername(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		reserved bool
	}{
		{name: "plain user", username: "alice", reserved: false},
		{name: "admin", username: "admin", reserved: true},
		{name: "mixed case route", username: "Logout", reserved: true},
		{name: "padded", username: "  api ", reserved: true},
		{name: "prefix of reserved", username: "adminx", reserved: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsReservedUsername(tc.username); got != tc.reserved {
				t.Fatalf("IsReservedUsername(%q) = %v, want %v", tc.username, got, tc.reserved)
			}
		})
	}
}
