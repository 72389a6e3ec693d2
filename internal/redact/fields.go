// Package redact classifies and masks personal and credential data in structured
// records, free text and log attributes.
package redact

import (
	"strings"

	"golang.org/x/text/cases"
)

// Markers written in place of removed content.
const (
	MarkerPII        = "[REDACTED_PII]"
	MarkerCredential = "[REDACTED_CREDENTIAL]"
	MarkerIP         = "[REDACTED_IP]"
	MarkerSubtree    = "[REDACTED]"
)

// FieldClass is the sensitivity class of a field name.
type FieldClass int

const (
	FieldPlain FieldClass = iota
	FieldPII
	FieldCredential
)

var piiIndicators = []string{
	"email",
	"phone",
	"address",
	"dob",
	"dateofbirth",
	"ssn",
	"nationalid",
	"medicalinfo",
	"bankdetails",
	"paymentinfo",
	"name",
	"parentcontact",
	"emergencycontact",
}

var credentialIndicators = []string{
	"token",
	"password",
	"passwd",
	"secret",
	"authorization",
	"apikey",
	"privatekey",
	"accesskey",
}

// normalizeField folds case and drops separators so that date_of_birth, dateOfBirth
// and Date-Of-Birth compare equal. A Caser holds state, so each call folds with its
// own.
func normalizeField(name string) string {
	folded := cases.Fold().String(name)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ClassifyField returns the sensitivity class of a field name. Credential indicators
// win over PII indicators.
func ClassifyField(name string) FieldClass {
	n := normalizeField(name)
	if n == "" {
		return FieldPlain
	}
	for _, ind := range credentialIndicators {
		if strings.Contains(n, ind) {
			return FieldCredential
		}
	}
	if n == "key" || strings.HasSuffix(n, "key") {
		return FieldCredential
	}
	for _, ind := range piiIndicators {
		if strings.Contains(n, ind) {
			return FieldPII
		}
	}
	return FieldPlain
}

// IsSensitiveField reports whether values stored under name must never be shown.
func IsSensitiveField(name string) bool {
	return ClassifyField(name) != FieldPlain
}

func markerFor(class FieldClass) string {
	if class == FieldCredential {
		return MarkerCredential
	}
	return MarkerPII
}
