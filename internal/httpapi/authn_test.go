package httpapi

import (
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer abc.def", "abc.def", true},
		{"  Bearer   abc  ", "abc", true},
		{"", "", false},
		{"Basic dXNlcg==", "", false},
		{"Bearer ", "", false},
		{"Bearer", "", false},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || token != tc.token) {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, token, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("extractBearerToken(%q) expected error", tc.header)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, path := range []string{"/v1/auth/signin", "/v1/auth/signup", "/metrics", "/healthz", "/"} {
		if !isPublicPath(path) {
			t.Fatalf("%s should be public", path)
		}
	}
	for _, path := range []string{"/v1/identities/me", "/v1/auth/invite-flatmate", "/v1/identities/1/role"} {
		if isPublicPath(path) {
			t.Fatalf("%s should require auth", path)
		}
	}
}
