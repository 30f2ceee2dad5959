package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

var csvHeader = []string{"timestamp", "eventType", "severity", "actor", "details"}

// WriteCSV menulis event audit sebagai CSV untuk review offline.
func WriteCSV(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, ev := range events {
		details, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("audit: encode details of %s: %w", ev.ID, err)
		}
		if ev.Details == nil {
			details = []byte("{}")
		}
		record := []string{
			ev.Timestamp.UTC().Format(time.RFC3339),
			string(ev.EventType),
			string(ev.Severity),
			ev.Actor(),
			string(details),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
