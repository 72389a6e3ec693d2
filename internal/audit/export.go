package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "timestamp", "operation", "resource_type", "resource_id", "resource_ref",
	"principal_id", "principal_role", "granted", "reason", "permission",
	"network_origin", "data_classification", "retain_until",
}

// WriteCSV encodes rows for download. Protected resource ids are never exported.
func WriteCSV(rows []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range rows {
		record := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Operation,
			e.ResourceType,
			e.ResourceID,
			e.ResourceRef,
			e.PrincipalID,
			e.PrincipalRole,
			strconv.FormatBool(e.Granted),
			e.Reason,
			e.Permission,
			e.NetworkOrigin,
			e.Classification.String(),
			e.RetainUntil.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
