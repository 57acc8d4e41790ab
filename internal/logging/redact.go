package logging

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)(Bearer|Authorization:\s*Bearer)\s+[A-Za-z0-9._-]+`)
	apiKeyPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9]{10,}|x-api-key:\s*\S+)`)
)

func redactBearer(s string) string {
	return bearerPattern.ReplaceAllString(s, "$1 ***")
}

func redactAPIKeyParam(s string) string {
	return apiKeyPattern.ReplaceAllString(s, "***")
}
