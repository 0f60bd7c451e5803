// Copyright (C) 2025 Cantonwatch
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package ledger

import (
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/cantonwatch/scanarchive/internal/partition"
	"github.com/cantonwatch/scanarchive/internal/wire"
)

// EventFromWire normalizes a legacy-binary event record. The file's
// partition path supplies the migration epoch when the record carries none;
// an explicit in-record value always wins.
func EventFromWire(ev *wire.Event, path string) *Event {
	return &Event{
		EventID:        ev.EventID,
		UpdateID:       ev.UpdateID,
		EventType:      ev.EventType,
		SynchronizerID: ev.SynchronizerID,
		Migration:      pickMigration(ev.Migration, path),
		EffectiveAt:    msToTime(ev.EffectiveAtMS),
		RecordedAt:     msToTime(ev.RecordedAtMS),
		ContractID:     ev.ContractID,
		TemplateID:     ev.TemplateID,
		PackageName:    ev.PackageName,
		Payload:        ParseDocument(ev.PayloadJSON),
		Signatories:    orEmpty(ev.Signatories),
		Observers:      orEmpty(ev.Observers),
		ActingParties:  orEmpty(ev.ActingParties),
		WitnessParties: orEmpty(ev.WitnessParties),
		Choice:         ev.Choice,
		Consuming:      ev.Consuming,
		InterfaceID:    ev.InterfaceID,
		ChildEventIDs:  orEmpty(ev.ChildEventIDs),
		ExerciseResult: ParseDocument(ev.ResultJSON),
	}
}

// UpdateFromWire normalizes a legacy-binary update record.
func UpdateFromWire(up *wire.Update, path string) *Update {
	return &Update{
		UpdateID:            up.UpdateID,
		UpdateType:          up.UpdateType,
		SynchronizerID:      up.SynchronizerID,
		WorkflowID:          up.WorkflowID,
		CommandID:           up.CommandID,
		Migration:           pickMigration(up.Migration, path),
		RecordTime:          msToTime(up.RecordTimeMS),
		EffectiveAt:         msToTime(up.EffectiveAtMS),
		Offset:              up.Offset,
		RootEventIDs:        orEmpty(up.RootEventIDs),
		EventCount:          up.EventCount,
		SourceSynchronizer:  up.SourceSynchronizer,
		TargetSynchronizer:  up.TargetSynchronizer,
		UnassignID:          up.UnassignID,
		Submitter:           up.Submitter,
		ReassignmentCounter: up.ReassignmentCounter,
	}
}

// EventFromRow normalizes a columnar row. Column names drifted over the
// life of the archive ("type" vs "event_type", "timestamp" vs
// "effective_at"); all spellings are reconciled here and nowhere else.
func EventFromRow(row map[string]any, path string) *Event {
	var mig *int64
	if v, ok := firstPresent(row, "migration_id", "migration"); ok {
		if n, ok := Int64FromAny(v); ok {
			mig = &n
		}
	}

	ev := &Event{
		EventID:        stringField(row, "event_id", "id"),
		UpdateID:       stringField(row, "update_id"),
		EventType:      stringField(row, "event_type", "type"),
		SynchronizerID: stringField(row, "synchronizer_id", "domain_id"),
		Migration:      mig,
		EffectiveAt:    timeField(row, "effective_at", "timestamp"),
		RecordedAt:     timeField(row, "recorded_at", "record_time"),
		ContractID:     stringField(row, "contract_id"),
		TemplateID:     stringField(row, "template_id"),
		PackageName:    stringField(row, "package_name"),
		Payload:        documentField(row, "payload", "create_arguments"),
		Signatories:    listField(row, "signatories"),
		Observers:      listField(row, "observers"),
		ActingParties:  listField(row, "acting_parties"),
		WitnessParties: listField(row, "witness_parties"),
		Choice:         stringField(row, "choice"),
		InterfaceID:    stringField(row, "interface_id"),
		ChildEventIDs:  listField(row, "child_event_ids"),
		ExerciseResult: documentField(row, "exercise_result"),
	}
	if v, ok := firstPresent(row, "consuming"); ok {
		switch b := v.(type) {
		case bool:
			ev.Consuming = b
		case string:
			ev.Consuming = b == "true"
		}
	}
	if ev.Migration == nil {
		ev.Migration = epochFromPath(path)
	}
	return ev
}

// UpdateFromRow normalizes a columnar update row.
func UpdateFromRow(row map[string]any, path string) *Update {
	var mig *int64
	if v, ok := firstPresent(row, "migration_id", "migration"); ok {
		if n, ok := Int64FromAny(v); ok {
			mig = &n
		}
	}

	up := &Update{
		UpdateID:           stringField(row, "update_id", "id"),
		UpdateType:         stringField(row, "update_type", "type"),
		SynchronizerID:     stringField(row, "synchronizer_id", "domain_id"),
		WorkflowID:         stringField(row, "workflow_id"),
		CommandID:          stringField(row, "command_id"),
		Migration:          mig,
		RecordTime:         timeField(row, "record_time", "recorded_at"),
		EffectiveAt:        timeField(row, "effective_at", "timestamp"),
		RootEventIDs:       listField(row, "root_event_ids"),
		SourceSynchronizer: stringField(row, "source_synchronizer", "source_domain"),
		TargetSynchronizer: stringField(row, "target_synchronizer", "target_domain"),
		UnassignID:         stringField(row, "unassign_id"),
		Submitter:          stringField(row, "submitter"),
	}
	if v, ok := firstPresent(row, "offset"); ok {
		if n, ok := Int64FromAny(v); ok {
			up.Offset = n
		}
	}
	if v, ok := firstPresent(row, "event_count"); ok {
		if n, ok := Int64FromAny(v); ok {
			up.EventCount = n
		}
	}
	if v, ok := firstPresent(row, "reassignment_counter"); ok {
		if n, ok := Int64FromAny(v); ok {
			up.ReassignmentCounter = n
		}
	}
	if up.Migration == nil {
		up.Migration = epochFromPath(path)
	}
	return up
}

// ParseDocument parses an embedded JSON sub-document defensively: a parse
// failure returns the raw string instead of an error, and an empty input
// returns nil.
func ParseDocument(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// Int64FromAny converts the representations a 64-bit field can arrive in
// (native integers, floats, decimal strings, json.Number, and split
// {low,high} pairs) to one int64. Values beyond the float64 safe-integer
// range that arrive as floats lose precision; that is a documented
// limitation of the legacy producers, not of this reader.
func Int64FromAny(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		return parseIntString(n.String())
	case string:
		return parseIntString(n)
	case map[string]any:
		// protobufjs-style split representation: {low, high, unsigned}.
		lowV, lowOK := n["low"]
		highV, highOK := n["high"]
		if !lowOK || !highOK {
			return 0, false
		}
		low, ok1 := Int64FromAny(lowV)
		high, ok2 := Int64FromAny(highV)
		if !ok1 || !ok2 {
			return 0, false
		}
		return high<<32 | int64(uint32(low)), true
	}
	return 0, false
}

func parseIntString(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	// Decimal or out-of-range wrapper: take the float path and accept the
	// precision loss.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// TimeFromAny converts millisecond epochs, time.Time, and RFC3339 strings
// to a timestamp. The zero time signals "missing or invalid".
func TimeFromAny(v any) time.Time {
	switch t := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
		if n, ok := parseIntString(t); ok {
			return msToTime(n)
		}
		return time.Time{}
	default:
		if n, ok := Int64FromAny(v); ok {
			return msToTime(n)
		}
		return time.Time{}
	}
}

// StringsFromAny converts list-typed values ([]string, []any, or a JSON
// array string) to a string slice, defaulting to empty rather than nil.
func StringsFromAny(v any) []string {
	switch l := v.(type) {
	case nil:
		return []string{}
	case []string:
		return orEmpty(l)
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		parsed := ParseDocument(l)
		if arr, ok := parsed.([]any); ok {
			return StringsFromAny(arr)
		}
		return []string{}
	}
	return []string{}
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func pickMigration(rec *int64, path string) *int64 {
	if rec != nil {
		return rec
	}
	return epochFromPath(path)
}

func epochFromPath(path string) *int64 {
	e := partition.MigrationEpoch(path)
	if e == nil {
		return nil
	}
	n := int64(*e)
	return &n
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func firstPresent(row map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := row[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(row map[string]any, names ...string) string {
	v, ok := firstPresent(row, names...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func timeField(row map[string]any, names ...string) time.Time {
	v, ok := firstPresent(row, names...)
	if !ok {
		return time.Time{}
	}
	return TimeFromAny(v)
}

func listField(row map[string]any, names ...string) []string {
	v, _ := firstPresent(row, names...)
	return StringsFromAny(v)
}

func documentField(row map[string]any, names ...string) any {
	v, ok := firstPresent(row, names...)
	if !ok {
		return nil
	}
	switch d := v.(type) {
	case string:
		return ParseDocument(d)
	case []byte:
		return ParseDocument(string(d))
	}
	return v
}
