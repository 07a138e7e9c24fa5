// internal/config/secret.go
package config

import "log/slog"

const redacted = "[REDACTED]"

// Secret holds a credential.
// Every printing path renders it redacted; only Reveal returns the value.
type Secret string

func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
