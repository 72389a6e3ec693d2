package rbac

import "github.com/schoolhub/schoolhub/internal/redact"

// Record is one decoded domain record as handed over by a data fetcher.
type Record = map[string]any

// safeguardingFlags are record keys marking a record as safeguarding material even
// when it is listed as another data type, e.g. a flagged behaviour incident.
var safeguardingFlags = []string{"safeguarding", "safeguardingFlag", "safeguarding_flag", "isSensitive"}

// FilterByPermission trims already-authorised records for display to p. Without the
// base read permission for dataType nothing is returned. Safeguarding records are
// redacted unless p holds safeguarding:access_sensitive_records. The input slice and
// its records are never modified.
func FilterByPermission(p Principal, records []Record, dataType ResourceType, r *redact.Redactor) []Record {
	if r == nil {
		r = redact.Default()
	}
	if p.Active && p.Role == RoleSuperAdmin {
		return records
	}
	perm, ok := RequiredPermission(dataType, OpRead)
	if !ok || !p.Active || !p.Has(perm) {
		return []Record{}
	}
	clearance := p.Has(PermSafeguardingSensitive)
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if !clearance && (dataType == ResourceSafeguarding || flaggedSafeguarding(rec)) {
			if masked, ok := r.Object(rec).(map[string]any); ok {
				out = append(out, masked)
				continue
			}
			out = append(out, Record{})
			continue
		}
		out = append(out, rec)
	}
	return out
}

func flaggedSafeguarding(rec Record) bool {
	for _, key := range safeguardingFlags {
		if v, ok := rec[key].(bool); ok && v {
			return true
		}
	}
	return false
}
