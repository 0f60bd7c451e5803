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

package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantonwatch/scanarchive/internal/partition"
	"github.com/cantonwatch/scanarchive/internal/wire"
)

func TestParseDataType(t *testing.T) {
	typ, err := parseDataType("events")
	require.NoError(t, err)
	assert.Equal(t, partition.DataTypeEvents, typ)

	typ, err = parseDataType("updates")
	require.NoError(t, err)
	assert.Equal(t, partition.DataTypeUpdates, typ)

	_, err = parseDataType("logs")
	assert.Error(t, err)
}

func TestWriteBinaryFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, partition.FileName(partition.DataTypeEvents, time.Now().UnixMilli(), partition.BinaryExt))

	rows := []map[string]any{
		{
			"event_id":     "e1",
			"event_type":   "created",
			"template_id":  "pkg:Token:Holding",
			"effective_at": int64(1717200000000),
			"migration_id": int64(3),
			"payload":      `{"amount":"10"}`,
		},
	}
	require.NoError(t, writeBinaryFile(path, partition.DataTypeEvents, rows))

	r, err := wire.NewReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ev, done, err := r.NextEvent()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, "created", ev.EventType)
	assert.Equal(t, int64(1717200000000), ev.EffectiveAtMS)
	require.NotNil(t, ev.Migration)
	assert.Equal(t, int64(3), *ev.Migration)
	assert.JSONEq(t, `{"amount":"10"}`, ev.PayloadJSON)

	_, done, err = r.NextEvent()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMarshalDocument(t *testing.T) {
	assert.Equal(t, "", marshalDocument(nil))
	assert.Equal(t, "raw-string", marshalDocument("raw-string"))
	assert.JSONEq(t, `{"a":1}`, marshalDocument(map[string]any{"a": 1}))
}

func TestWriteColumnarFileProduces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, partition.FileName(partition.DataTypeUpdates, time.Now().UnixMilli(), partition.ColumnarExt))

	rows := []map[string]any{
		{"update_id": "u1", "update_type": "transaction", "record_time": int64(1717200000000)},
	}
	require.NoError(t, writeColumnarFile(path, partition.DataTypeUpdates, rows))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
