package logger

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phoneRegex = regexp.MustCompile(`\+\d{7,15}`)
)

// RedactAddress masks a channel address (email or E.164 phone number) for
// logging, keeping just enough to correlate log lines.
func RedactAddress(addr string) string {
	if at := strings.Index(addr, "@"); at > 0 {
		local := addr[:at]
		if len(local) <= 2 {
			return "**" + addr[at:]
		}
		return local[:1] + "***" + local[len(local)-1:] + addr[at:]
	}
	if phoneRegex.MatchString(addr) && len(addr) > 5 {
		return addr[:3] + "*****" + addr[len(addr)-2:]
	}
	return addr
}

// redactEmbedded masks any addresses embedded in a generic field value.
func redactEmbedded(val string) string {
	val = emailRegex.ReplaceAllStringFunc(val, RedactAddress)
	return phoneRegex.ReplaceAllStringFunc(val, RedactAddress)
}
