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

package wire

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantonwatch/scanarchive/internal/partition"
)

func sampleEvents() []*Event {
	mig := int64(4)
	return []*Event{
		{
			EventID:        "ev-1",
			UpdateID:       "up-1",
			EventType:      "created",
			SynchronizerID: "sync::global",
			Migration:      &mig,
			EffectiveAtMS:  1717200000000,
			RecordedAtMS:   1717200000500,
			ContractID:     "00c0ffee",
			TemplateID:     "pkg:Splice.Amulet:Amulet",
			PackageName:    "splice-amulet",
			PayloadJSON:    `{"amount":"12.5","owner":"alice::one"}`,
			Signatories:    []string{"dso::party", "alice::one"},
			Observers:      []string{"bob::two"},
		},
		{
			EventID:       "ev-2",
			UpdateID:      "up-1",
			EventType:     "exercised",
			ContractID:    "00c0ffee",
			TemplateID:    "pkg:Splice.Amulet:Amulet",
			EffectiveAtMS: 1717200000000,
			Choice:        "Amulet_Transfer",
			Consuming:     true,
			InterfaceID:   "pkg:Splice.Api:Transfer",
			ChildEventIDs: []string{"ev-3", "ev-4"},
			ResultJSON:    `{"round":7}`,
			ActingParties: []string{"alice::one"},
		},
	}
}

func TestEventBatchRoundTrip(t *testing.T) {
	in := sampleEvents()
	out, err := DecodeEventBatch(EncodeEventBatch(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[1], out[1])

	// Absent migration stays absent, it must not collapse to zero.
	assert.Nil(t, out[1].Migration)
	require.NotNil(t, out[0].Migration)
	assert.Equal(t, int64(4), *out[0].Migration)
}

func TestUpdateBatchRoundTrip(t *testing.T) {
	mig := int64(2)
	in := []*Update{
		{
			UpdateID:       "up-1",
			UpdateType:     "transaction",
			SynchronizerID: "sync::global",
			WorkflowID:     "wf-1",
			CommandID:      "cmd-1",
			RecordTimeMS:   1717200000000,
			EffectiveAtMS:  1717200000000,
			Offset:         991,
			RootEventIDs:   []string{"ev-1", "ev-2"},
			EventCount:     2,
			Migration:      &mig,
		},
		{
			UpdateID:            "up-2",
			UpdateType:          "reassignment",
			SourceSynchronizer:  "sync::a",
			TargetSynchronizer:  "sync::b",
			UnassignID:          "ua-1",
			Submitter:           "alice::one",
			ReassignmentCounter: 3,
		},
	}
	out, err := DecodeUpdateBatch(EncodeUpdateBatch(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in, out)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	// A record with an unknown trailing field must still decode; the
	// schema is versionless and new fields are optional.
	rec := encodeEvent(&Event{EventID: "ev-1", EventType: "created"})
	rec = append(rec, 0xf2, 0x06) // field 110, bytes type
	rec = append(rec, 0x02, 'h', 'i')

	var batch []byte
	batch = append(batch, 0x0a, byte(len(rec)))
	batch = append(batch, rec...)

	out, err := DecodeEventBatch(batch)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ev-1", out[0].EventID)
}

func TestReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events-1717200000000.pb.gz")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteEventBatch(sampleEvents()[:1]))
	require.NoError(t, w.WriteEventBatch(sampleEvents()[1:]))
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.Equal(t, partition.DataTypeEvents, r.Type())

	var got []*Event
	for {
		ev, done, err := r.NextEvent()
		require.NoError(t, err)
		if done {
			break
		}
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "ev-1", got[0].EventID)
	assert.Equal(t, "ev-2", got[1].EventID)
}

func TestReaderToleratesTruncatedTrailingFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events-1717200000000.pb.gz")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteEventBatch(sampleEvents()))
	require.NoError(t, w.Close())

	// Simulate a file observed mid-write: append a frame header whose body
	// never fully arrives.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x00, 0x10, 0x00, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	count := 0
	for {
		_, done, err := r.NextEvent()
		require.NoError(t, err)
		if done {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}

func TestReaderRejectsWrongType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "updates-1717200000000.pb.gz")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteUpdateBatch([]*Update{{UpdateID: "up-1"}}))
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, _, err = r.NextEvent()
	assert.Error(t, err)
}

func TestNewReaderUnknownPrefix(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "misc-1.pb.gz"))
	assert.Error(t, err)
}
