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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantonwatch/scanarchive/internal/wire"
)

const eventsPath = "/data/scan/events/migration=7/year=2025/month=03/day=01/events-1717200000000.pb.gz"

func TestEventFromWireFillsEpochFromPath(t *testing.T) {
	ev := EventFromWire(&wire.Event{
		EventID:       "ev-1",
		EventType:     "created",
		EffectiveAtMS: 1717200000000,
		PayloadJSON:   `{"owner":"alice::one"}`,
	}, eventsPath)

	require.NotNil(t, ev.Migration)
	assert.Equal(t, int64(7), *ev.Migration)
	assert.Equal(t, time.UnixMilli(1717200000000).UTC(), ev.EffectiveAt)

	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice::one", payload["owner"])

	// List fields default to empty, never nil.
	assert.NotNil(t, ev.Signatories)
	assert.NotNil(t, ev.ChildEventIDs)
}

func TestEventFromWireRecordEpochWins(t *testing.T) {
	mig := int64(9)
	ev := EventFromWire(&wire.Event{EventID: "ev-1", Migration: &mig}, eventsPath)
	require.NotNil(t, ev.Migration)
	assert.Equal(t, int64(9), *ev.Migration)
}

func TestEventFromWireNoEpochAnywhere(t *testing.T) {
	ev := EventFromWire(&wire.Event{EventID: "ev-1"}, "/data/flat/events-1.pb.gz")
	assert.Nil(t, ev.Migration, "unknown epoch must stay nil, not become zero")
}

func TestParseDocumentDefensive(t *testing.T) {
	assert.Nil(t, ParseDocument(""))

	doc := ParseDocument(`{"a":1}`)
	m, ok := doc.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, m["a"])

	// Unparseable documents come back verbatim instead of erroring.
	raw := ParseDocument(`{"a":`)
	assert.Equal(t, `{"a":`, raw)
}

func TestInt64FromAny(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{name: "int64", in: int64(42), want: 42, ok: true},
		{name: "float64", in: float64(42), want: 42, ok: true},
		{name: "decimal string", in: "1717200000000", want: 1717200000000, ok: true},
		{name: "above safe-integer boundary", in: "9007199254740993", want: 9007199254740993, ok: true},
		{name: "split low high", in: map[string]any{"low": float64(5), "high": float64(2), "unsigned": false}, want: 2<<32 | 5, ok: true},
		{name: "split negative low bits", in: map[string]any{"low": float64(-1), "high": float64(0)}, want: 0xFFFFFFFF, ok: true},
		{name: "garbage string", in: "not-a-number", ok: false},
		{name: "nil", in: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Int64FromAny(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEventFromRowReconcilesNames(t *testing.T) {
	row := map[string]any{
		"id":        "ev-9",
		"type":      "archived",
		"domain_id": "sync::global",
		"timestamp": int64(1717200000000),
		"payload":   `{"n":1}`,
		"consuming": true,
	}
	ev := EventFromRow(row, eventsPath)
	assert.Equal(t, "ev-9", ev.EventID)
	assert.Equal(t, "archived", ev.EventType)
	assert.Equal(t, "sync::global", ev.SynchronizerID)
	assert.Equal(t, time.UnixMilli(1717200000000).UTC(), ev.EffectiveAt)
	assert.True(t, ev.Consuming)
	require.NotNil(t, ev.Migration)
	assert.Equal(t, int64(7), *ev.Migration)
}

func TestEventFromRowPrefersCanonicalNames(t *testing.T) {
	row := map[string]any{
		"event_id":     "ev-1",
		"id":           "legacy-id",
		"event_type":   "created",
		"type":         "legacy-type",
		"migration_id": int64(3),
	}
	ev := EventFromRow(row, eventsPath)
	assert.Equal(t, "ev-1", ev.EventID)
	assert.Equal(t, "created", ev.EventType)
	require.NotNil(t, ev.Migration)
	assert.Equal(t, int64(3), *ev.Migration, "in-record epoch wins over path epoch")
}

func TestUpdateFromRow(t *testing.T) {
	row := map[string]any{
		"update_id":      "up-1",
		"update_type":    "reassignment",
		"record_time":    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		"offset":         "991",
		"event_count":    float64(2),
		"root_event_ids": `["ev-1","ev-2"]`,
		"source_domain":  "sync::a",
	}
	up := UpdateFromRow(row, "/data/scan/updates/migration=2/year=2025/month=03/day=01/updates-1.parquet")
	assert.Equal(t, "up-1", up.UpdateID)
	assert.Equal(t, int64(991), up.Offset)
	assert.Equal(t, int64(2), up.EventCount)
	assert.Equal(t, []string{"ev-1", "ev-2"}, up.RootEventIDs)
	assert.Equal(t, "sync::a", up.SourceSynchronizer)
	require.NotNil(t, up.Migration)
	assert.Equal(t, int64(2), *up.Migration)
}

func TestStringsFromAny(t *testing.T) {
	assert.Equal(t, []string{}, StringsFromAny(nil))
	assert.Equal(t, []string{"a"}, StringsFromAny([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, StringsFromAny([]any{"a", "b"}))
	assert.Equal(t, []string{"a"}, StringsFromAny(`["a"]`))
	assert.Equal(t, []string{}, StringsFromAny("not json"))
}

func TestTimeFromAny(t *testing.T) {
	assert.True(t, TimeFromAny(nil).IsZero())
	assert.True(t, TimeFromAny("garbage").IsZero())
	assert.Equal(t, time.UnixMilli(1717200000000).UTC(), TimeFromAny("2024-06-01T00:00:00Z"))
	assert.Equal(t, time.UnixMilli(1717200000000).UTC(), TimeFromAny(int64(1717200000000)))
}

func TestRecordSortTime(t *testing.T) {
	rec := Record{Event: &Event{EffectiveAt: time.UnixMilli(5).UTC(), RecordedAt: time.UnixMilli(9).UTC()}}
	assert.Equal(t, time.UnixMilli(5).UTC(), rec.SortTime("effective_at"))
	assert.Equal(t, time.UnixMilli(9).UTC(), rec.SortTime("recorded_at"))

	var empty Record
	assert.True(t, empty.SortTime("effective_at").IsZero())
}
