package notification

import "regexp"

var urlCredentials = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]+@`)

// redactURLs replaces credentials embedded in URLs with asterisks.
func redactURLs(s string) string {
	return urlCredentials.ReplaceAllString(s, "${1}***@")
}
