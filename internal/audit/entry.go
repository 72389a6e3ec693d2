package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/schoolhub/schoolhub/internal/rbac"
)

var (
	// ErrPersistence reports that a must-persist entry did not reach the compliance store.
	ErrPersistence = errors.New("audit: persistence failed")
	// ErrInvalidInput reports an entry that cannot be recorded.
	ErrInvalidInput = errors.New("audit: invalid input")
)

// StudentIDPlaceholder replaces student-linked resource ids outside the compliance store.
const StudentIDPlaceholder = "[REDACTED_STUDENT_ID]"

// Classification is a sensitivity tier. Higher values are more sensitive.
type Classification int

const (
	ClassPublic Classification = iota
	ClassInternal
	ClassConfidential
	ClassRestricted
)

// String returns the wire name of c.
func (c Classification) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassInternal:
		return "internal"
	case ClassConfidential:
		return "confidential"
	case ClassRestricted:
		return "restricted"
	}
	return "internal"
}

// ParseClassification resolves a wire name.
func ParseClassification(raw string) (Classification, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "public":
		return ClassPublic, true
	case "internal":
		return ClassInternal, true
	case "confidential":
		return ClassConfidential, true
	case "restricted":
		return ClassRestricted, true
	}
	return ClassInternal, false
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Classification) UnmarshalText(b []byte) error {
	parsed, ok := ParseClassification(string(b))
	if !ok {
		return ErrInvalidInput
	}
	*c = parsed
	return nil
}

// Decode implements envconfig.Decoder.
func (c *Classification) Decode(value string) error {
	return c.UnmarshalText([]byte(value))
}

// ClassificationFor returns the default tier for a resource type.
func ClassificationFor(t rbac.ResourceType) Classification {
	switch t {
	case rbac.ResourceSafeguarding, rbac.ResourceFinancial:
		return ClassRestricted
	case rbac.ResourceStudent, rbac.ResourceBehaviour, rbac.ResourceAttendance:
		return ClassConfidential
	}
	return ClassInternal
}

// Entry is one immutable audit record. ProtectedResourceID only ever reaches the
// compliance store; every other sink sees ResourceID.
type Entry struct {
	ID                  string         `json:"id"`
	Operation           string         `json:"operation"`
	ResourceType        string         `json:"resource_type"`
	ResourceID          string         `json:"resource_id"`
	ProtectedResourceID string         `json:"protected_resource_id,omitempty"`
	ResourceRef         string         `json:"resource_ref,omitempty"`
	PrincipalID         string         `json:"principal_id"`
	PrincipalRole       string         `json:"principal_role"`
	Granted             bool           `json:"granted"`
	Reason              string         `json:"reason"`
	Permission          string         `json:"permission,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
	NetworkOrigin       string         `json:"network_origin,omitempty"`
	Classification      Classification `json:"data_classification"`
	RetainUntil         time.Time      `json:"retain_until"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Public returns a copy without the protected resource id.
func (e Entry) Public() Entry {
	e.ProtectedResourceID = ""
	return e
}

// Input describes an event to be recorded.
type Input struct {
	Operation      string
	ResourceType   rbac.ResourceType
	ResourceID     string
	OwnerStudentID string
	PrincipalID    string
	PrincipalRole  rbac.Role
	Granted        bool
	Reason         string
	Permission     rbac.Permission
	NetworkOrigin  string
	// Classification raises the derived tier; it never lowers it.
	Classification Classification
	Metadata       map[string]any
}

// Recorder is the narrow interface other packages depend on.
type Recorder interface {
	Record(ctx context.Context, in Input) error
}

type originContextKey struct{}

// ContextWithOrigin stores the caller's network address for audit entries.
func ContextWithOrigin(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, originContextKey{}, addr)
}

// OriginFromContext returns the address stored by ContextWithOrigin.
func OriginFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(originContextKey{}).(string)
	return addr
}
