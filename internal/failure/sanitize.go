// internal/failure/sanitize.go
package failure

import "regexp"

var (
	credentialRegex = regexp.MustCompile(`(?i)(password|passwd|token|userid|user_id|secret|cookie|jsessionid)([^a-zA-Z0-9]{0,3})[:=]\s*[^,&\s}]+`)
	bearerRegex     = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)
)

// Sanitize strips credential-like fragments from an error message before it
// reaches logs or subscriber payloads.
func Sanitize(msg string) string {
	msg = credentialRegex.ReplaceAllString(msg, "$1$2=[REDACTED]")
	msg = bearerRegex.ReplaceAllString(msg, "Bearer [REDACTED]")
	return msg
}

// Message returns the sanitized text of err, or "" for nil.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}
