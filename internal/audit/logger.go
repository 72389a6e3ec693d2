package audit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/schoolhub/schoolhub/internal/rbac"
	"github.com/schoolhub/schoolhub/internal/redact"
)

const (
	// DefaultRetentionDays keeps entries for seven years.
	DefaultRetentionDays = 2555
	// DefaultWriteTimeout bounds synchronous compliance writes.
	DefaultWriteTimeout = 3 * time.Second

	anonymousPrincipal = "anonymous"
	invalidValue       = "invalid"
)

// Config tunes a Logger.
type Config struct {
	RetentionDays int
	// SyncThreshold is the lowest classification persisted before Record returns.
	SyncThreshold Classification
	WriteTimeout  time.Duration
	// HashKey keys the pseudonymous resource reference; at most 64 bytes.
	HashKey []byte
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetentionDays: DefaultRetentionDays,
		SyncThreshold: ClassConfidential,
		WriteTimeout:  DefaultWriteTimeout,
	}
}

// Dispatcher hands an entry to an asynchronous writer.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Entry) error
}

// FailureObserver counts entries that did not reach the compliance store.
type FailureObserver interface {
	ObserveAuditFailure(classification string)
}

// Logger is the compliance logger. Every entry goes to the general log sink with
// student identifiers replaced, and to the compliance store with the real id kept in
// ProtectedResourceID.
type Logger struct {
	store      Writer
	dispatcher Dispatcher
	general    *slog.Logger
	redactor   *redact.Redactor
	observer   FailureObserver
	cfg        Config
	now        func() time.Time
}

// LoggerOption customises a Logger.
type LoggerOption func(*Logger)

// WithDispatcher routes entries below the sync threshold through d.
func WithDispatcher(d Dispatcher) LoggerOption {
	return func(l *Logger) { l.dispatcher = d }
}

// WithGeneralLogger sets the general-purpose log sink.
func WithGeneralLogger(g *slog.Logger) LoggerOption {
	return func(l *Logger) {
		if g != nil {
			l.general = g
		}
	}
}

// WithRedactor overrides the default rule set.
func WithRedactor(r *redact.Redactor) LoggerOption {
	return func(l *Logger) {
		if r != nil {
			l.redactor = r
		}
	}
}

// WithFailureObserver attaches a metrics observer.
func WithFailureObserver(o FailureObserver) LoggerOption {
	return func(l *Logger) { l.observer = o }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger constructs a Logger writing to store.
func NewLogger(store Writer, cfg Config, opts ...LoggerOption) (*Logger, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	if len(cfg.HashKey) > blake2b.Size {
		return nil, fmt.Errorf("audit: hash key longer than %d bytes", blake2b.Size)
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	l := &Logger{
		store:    store,
		general:  slog.Default(),
		redactor: redact.Default(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record builds one entry from in and writes it. Entries at or above the sync
// threshold are persisted before Record returns and a failure is reported as
// ErrPersistence. Lower entries are dispatched or written best-effort; their failures
// are logged and swallowed.
func (l *Logger) Record(ctx context.Context, in Input) error {
	entry := l.build(ctx, in)
	l.logGeneral(ctx, entry)

	if entry.Classification >= l.cfg.SyncThreshold {
		writeCtx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
		defer cancel()
		if err := l.store.Append(writeCtx, entry); err != nil {
			l.fail(ctx, entry, err)
			return fmt.Errorf("%w: %s entry %s: %w", ErrPersistence, entry.Classification, entry.ID, err)
		}
		return nil
	}

	if l.dispatcher != nil {
		err := l.dispatcher.Dispatch(ctx, entry)
		if err == nil {
			return nil
		}
		l.general.WarnContext(ctx, "audit dispatch failed, writing inline",
			slog.String("entry_id", entry.ID),
			slog.Any("error", err))
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout)
	defer cancel()
	if err := l.store.Append(writeCtx, entry); err != nil {
		l.fail(ctx, entry, err)
	}
	return nil
}

// RecordDecision implements rbac.DecisionRecorder.
func (l *Logger) RecordDecision(ctx context.Context, ev rbac.DecisionEvent) error {
	op := string(ev.Operation)
	if !ev.Operation.Valid() {
		op = invalidValue
	}
	return l.Record(ctx, Input{
		Operation:      "access." + op,
		ResourceType:   ev.Resource.Type,
		ResourceID:     ev.Resource.ID,
		OwnerStudentID: ev.Resource.OwnerStudentID,
		PrincipalID:    ev.Principal.ID,
		PrincipalRole:  ev.Principal.Role,
		Granted:        ev.Decision.Granted,
		Reason:         ev.Decision.Reason,
		Permission:     ev.Decision.Permission,
		Metadata: map[string]any{
			"school_id": ev.Resource.SchoolID,
			"sensitive": ev.Resource.IsSensitive(),
		},
	})
}

func (l *Logger) build(ctx context.Context, in Input) Entry {
	now := l.now().UTC()
	class := ClassificationFor(in.ResourceType)
	if in.Classification > class {
		class = in.Classification
	}

	resourceType := string(in.ResourceType)
	if !in.ResourceType.Valid() {
		resourceType = invalidValue
	}
	principalID := strings.TrimSpace(in.PrincipalID)
	if principalID == "" {
		principalID = anonymousPrincipal
	}
	role := string(in.PrincipalRole)
	switch {
	case in.PrincipalRole == "" && principalID == anonymousPrincipal:
		role = anonymousPrincipal
	case !in.PrincipalRole.Valid():
		role = invalidValue
	}
	operation := strings.TrimSpace(in.Operation)
	if operation == "" {
		operation = invalidValue
	}

	entry := Entry{
		ID:             uuid.NewString(),
		Operation:      operation,
		ResourceType:   resourceType,
		ResourceID:     in.ResourceID,
		PrincipalID:    principalID,
		PrincipalRole:  role,
		Granted:        in.Granted,
		Reason:         l.redactor.String(in.Reason),
		Permission:     string(in.Permission),
		Timestamp:      now,
		Classification: class,
		RetainUntil:    now.AddDate(0, 0, l.cfg.RetentionDays),
	}
	if in.ResourceType.StudentLinked() || in.OwnerStudentID != "" {
		entry.ProtectedResourceID = in.ResourceID
		entry.ResourceID = StudentIDPlaceholder
	}
	if in.ResourceID != "" {
		entry.ResourceRef = l.reference(resourceType, in.ResourceID)
	}

	origin := in.NetworkOrigin
	if origin == "" {
		origin = OriginFromContext(ctx)
	}
	entry.NetworkOrigin = redact.SanitizeIP(origin)

	if len(in.Metadata) > 0 {
		if meta, ok := l.redactor.Object(in.Metadata).(map[string]any); ok {
			entry.Metadata = meta
		}
	}
	return entry
}

// reference returns a stable pseudonym for a resource so general-log readers can
// correlate entries without seeing the identifier.
func (l *Logger) reference(resourceType, id string) string {
	if len(l.cfg.HashKey) == 0 {
		return ""
	}
	h, err := blake2b.New256(l.cfg.HashKey)
	if err != nil {
		return ""
	}
	h.Write([]byte(resourceType))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (l *Logger) logGeneral(ctx context.Context, e Entry) {
	level := slog.LevelInfo
	if !e.Granted {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("entry_id", e.ID),
		slog.String("operation", e.Operation),
		slog.String("resource_type", e.ResourceType),
		slog.String("resource_id", e.ResourceID),
		slog.String("principal_id", e.PrincipalID),
		slog.String("principal_role", e.PrincipalRole),
		slog.Bool("granted", e.Granted),
		slog.String("reason", e.Reason),
		slog.String("data_classification", e.Classification.String()),
		slog.Time("occurred_at", e.Timestamp),
	}
	if e.ResourceRef != "" {
		attrs = append(attrs, slog.String("resource_ref", e.ResourceRef))
	}
	if e.Permission != "" {
		attrs = append(attrs, slog.String("permission", e.Permission))
	}
	if e.NetworkOrigin != "" {
		attrs = append(attrs, slog.String("network_origin", e.NetworkOrigin))
	}
	l.general.LogAttrs(ctx, level, "audit", attrs...)
}

func (l *Logger) fail(ctx context.Context, e Entry, err error) {
	if l.observer != nil {
		l.observer.ObserveAuditFailure(e.Classification.String())
	}
	l.general.ErrorContext(ctx, "audit persistence failed",
		slog.String("entry_id", e.ID),
		slog.String("data_classification", e.Classification.String()),
		slog.String("operation", e.Operation),
		slog.Any("error", err))
}

var (
	_ Recorder              = (*Logger)(nil)
	_ rbac.DecisionRecorder = (*Logger)(nil)
)
