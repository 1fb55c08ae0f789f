package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactIP masks the last octet of an IPv4 address: "203.0.113.7" → "203.0.113.x".
// Non-IPv4 input is masked entirely.
func RedactIP(ip string) string {
	idx := strings.LastIndexByte(ip, '.')
	if idx <= 0 || strings.Contains(ip, ":") {
		return "***"
	}
	return ip[:idx] + ".x"
}
