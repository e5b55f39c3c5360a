package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// ValidationError is returned when required configuration fields are missing
// or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing or invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failure while resolving one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to nothing.
// Error output shows hashed identifiers so logs never hint at which secret
// names exist.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// RedactedNames returns the hashed secret identifiers, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.names(func(s missingSecret) string { return s.redacted })
}

// Names returns the underlying secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	return e.names(func(s missingSecret) string { return s.name })
}

func (e *MissingSecretsError) names(pick func(missingSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

// findMissingSecrets checks each required identifier against the resolved
// values; blank and duplicate identifiers are ignored.
func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(required))
	var missing []missingSecret
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(resolved[name]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
