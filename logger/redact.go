package logger

import "regexp"

// RedactedText replaces sensitive values.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)
	// user:pass@host in URLs
	userinfoPattern = regexp.MustCompile(`://([^:/@\s]+):[^@\s]+@`)
	// go-sql-driver form: user:pass@tcp(host)/db
	mysqlPattern = regexp.MustCompile(`^([^:/@\s]+):[^@\s]*@(\w*\()`)
)

// RedactDSN removes passwords from a data source name before it is logged.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	out := passwordPattern.ReplaceAllString(dsn, "${1}="+RedactedText)
	out = userinfoPattern.ReplaceAllString(out, "://${1}:"+RedactedText+"@")
	out = mysqlPattern.ReplaceAllString(out, "${1}:"+RedactedText+"@${2}")
	return out
}

// RedactError returns the error text with credentials removed.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	msg = userinfoPattern.ReplaceAllString(msg, "://${1}:"+RedactedText+"@")
	return msg
}
