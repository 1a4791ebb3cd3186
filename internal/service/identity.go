package service

import "strings"

// LocalPart returns the login up to the first '@'.
func LocalPart(login string) string {
	if idx := strings.Index(login, "@"); idx >= 0 {
		return login[:idx]
	}
	return login
}

// ExternalIdentity derives the analytics username, space id and index prefix from an LMS login.
func ExternalIdentity(login string) string {
	return strings.ReplaceAll(LocalPart(login), ".", "_")
}
