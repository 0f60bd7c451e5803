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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"

	"github.com/cantonwatch/scanarchive/internal/ledger"
	"github.com/cantonwatch/scanarchive/internal/partition"
	"github.com/cantonwatch/scanarchive/internal/wire"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Maintain archive files directly",
}

var archiveWriteFlags struct {
	dataType  string
	format    string
	migration int
	input     string
}

// archiveWriteCmd turns a JSON array of canonical records into one archive
// file in today's partition. It exists for fixtures, backfills, and for
// smoke-testing a deployment end to end.
var archiveWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a JSON array of records into the archive",
	RunE: func(c *cobra.Command, _ []string) error {
		defer setupLogging("archive-write")()

		typ, err := parseDataType(archiveWriteFlags.dataType)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		raw, err := readInput(archiveWriteFlags.input)
		if err != nil {
			return err
		}
		var rows []map[string]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("parse input records: %w", err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("no records in input")
		}

		now := time.Now().UTC()
		dir := filepath.FromSlash(partition.DayDir(cfg.Archive.BaseDir, typ, archiveWriteFlags.migration, now))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create partition dir: %w", err)
		}

		var ext string
		switch archiveWriteFlags.format {
		case "binary":
			ext = partition.BinaryExt
		case "columnar":
			ext = partition.ColumnarExt
		default:
			return fmt.Errorf("unknown format %q (want binary or columnar)", archiveWriteFlags.format)
		}
		path := filepath.Join(dir, partition.FileName(typ, now.UnixMilli(), ext))

		if ext == partition.BinaryExt {
			err = writeBinaryFile(path, typ, rows)
		} else {
			err = writeColumnarFile(path, typ, rows)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, path)
		return nil
	},
}

func readInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeBinaryFile(path string, typ partition.DataType, rows []map[string]any) error {
	w, err := wire.NewWriter(path)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if typ == partition.DataTypeEvents {
		batch := make([]*wire.Event, 0, len(rows))
		for _, row := range rows {
			batch = append(batch, wireFromEvent(ledger.EventFromRow(row, "")))
		}
		if err := w.WriteEventBatch(batch); err != nil {
			return err
		}
	} else {
		batch := make([]*wire.Update, 0, len(rows))
		for _, row := range rows {
			batch = append(batch, wireFromUpdate(ledger.UpdateFromRow(row, "")))
		}
		if err := w.WriteUpdateBatch(batch); err != nil {
			return err
		}
	}
	return w.Close()
}

// Columnar row shapes. Field names must match what the normalization
// boundary reconciles on the read side.
type eventColumns struct {
	EventID        string `parquet:"event_id,optional"`
	UpdateID       string `parquet:"update_id,optional"`
	EventType      string `parquet:"event_type,optional"`
	SynchronizerID string `parquet:"synchronizer_id,optional"`
	MigrationID    int64  `parquet:"migration_id,optional"`
	EffectiveAt    int64  `parquet:"effective_at,optional"`
	RecordedAt     int64  `parquet:"recorded_at,optional"`
	ContractID     string `parquet:"contract_id,optional"`
	TemplateID     string `parquet:"template_id,optional"`
	PackageName    string `parquet:"package_name,optional"`
	Payload        string `parquet:"payload,optional"`
	Signatories    string `parquet:"signatories,optional"`
	Observers      string `parquet:"observers,optional"`
	Choice         string `parquet:"choice,optional"`
	Consuming      bool   `parquet:"consuming,optional"`
	ExerciseResult string `parquet:"exercise_result,optional"`
}

type updateColumns struct {
	UpdateID       string `parquet:"update_id,optional"`
	UpdateType     string `parquet:"update_type,optional"`
	SynchronizerID string `parquet:"synchronizer_id,optional"`
	WorkflowID     string `parquet:"workflow_id,optional"`
	CommandID      string `parquet:"command_id,optional"`
	MigrationID    int64  `parquet:"migration_id,optional"`
	RecordTime     int64  `parquet:"record_time,optional"`
	EffectiveAt    int64  `parquet:"effective_at,optional"`
	Offset         int64  `parquet:"offset,optional"`
	EventCount     int64  `parquet:"event_count,optional"`
}

func writeColumnarFile(path string, typ partition.DataType, rows []map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if typ == partition.DataTypeEvents {
		out := make([]eventColumns, 0, len(rows))
		for _, row := range rows {
			out = append(out, columnsFromEvent(ledger.EventFromRow(row, "")))
		}
		w := parquet.NewGenericWriter[eventColumns](f)
		if _, err := w.Write(out); err != nil {
			return fmt.Errorf("write parquet: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finish parquet: %w", err)
		}
	} else {
		out := make([]updateColumns, 0, len(rows))
		for _, row := range rows {
			out = append(out, columnsFromUpdate(ledger.UpdateFromRow(row, "")))
		}
		w := parquet.NewGenericWriter[updateColumns](f)
		if _, err := w.Write(out); err != nil {
			return fmt.Errorf("write parquet: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finish parquet: %w", err)
		}
	}
	return f.Close()
}

func wireFromEvent(ev *ledger.Event) *wire.Event {
	return &wire.Event{
		EventID:        ev.EventID,
		UpdateID:       ev.UpdateID,
		EventType:      ev.EventType,
		SynchronizerID: ev.SynchronizerID,
		Migration:      ev.Migration,
		EffectiveAtMS:  msOrZero(ev.EffectiveAt),
		RecordedAtMS:   msOrZero(ev.RecordedAt),
		ContractID:     ev.ContractID,
		TemplateID:     ev.TemplateID,
		PackageName:    ev.PackageName,
		PayloadJSON:    marshalDocument(ev.Payload),
		Signatories:    ev.Signatories,
		Observers:      ev.Observers,
		ActingParties:  ev.ActingParties,
		WitnessParties: ev.WitnessParties,
		Choice:         ev.Choice,
		Consuming:      ev.Consuming,
		InterfaceID:    ev.InterfaceID,
		ChildEventIDs:  ev.ChildEventIDs,
		ResultJSON:     marshalDocument(ev.ExerciseResult),
	}
}

func wireFromUpdate(up *ledger.Update) *wire.Update {
	return &wire.Update{
		UpdateID:            up.UpdateID,
		UpdateType:          up.UpdateType,
		SynchronizerID:      up.SynchronizerID,
		WorkflowID:          up.WorkflowID,
		CommandID:           up.CommandID,
		RecordTimeMS:        msOrZero(up.RecordTime),
		EffectiveAtMS:       msOrZero(up.EffectiveAt),
		Offset:              up.Offset,
		RootEventIDs:        up.RootEventIDs,
		EventCount:          up.EventCount,
		Migration:           up.Migration,
		SourceSynchronizer:  up.SourceSynchronizer,
		TargetSynchronizer:  up.TargetSynchronizer,
		UnassignID:          up.UnassignID,
		Submitter:           up.Submitter,
		ReassignmentCounter: up.ReassignmentCounter,
	}
}

func columnsFromEvent(ev *ledger.Event) eventColumns {
	return eventColumns{
		EventID:        ev.EventID,
		UpdateID:       ev.UpdateID,
		EventType:      ev.EventType,
		SynchronizerID: ev.SynchronizerID,
		MigrationID:    derefMigration(ev.Migration),
		EffectiveAt:    msOrZero(ev.EffectiveAt),
		RecordedAt:     msOrZero(ev.RecordedAt),
		ContractID:     ev.ContractID,
		TemplateID:     ev.TemplateID,
		PackageName:    ev.PackageName,
		Payload:        marshalDocument(ev.Payload),
		Signatories:    marshalDocument(ev.Signatories),
		Observers:      marshalDocument(ev.Observers),
		Choice:         ev.Choice,
		Consuming:      ev.Consuming,
		ExerciseResult: marshalDocument(ev.ExerciseResult),
	}
}

func columnsFromUpdate(up *ledger.Update) updateColumns {
	return updateColumns{
		UpdateID:       up.UpdateID,
		UpdateType:     up.UpdateType,
		SynchronizerID: up.SynchronizerID,
		WorkflowID:     up.WorkflowID,
		CommandID:      up.CommandID,
		MigrationID:    derefMigration(up.Migration),
		RecordTime:     msOrZero(up.RecordTime),
		EffectiveAt:    msOrZero(up.EffectiveAt),
		Offset:         up.Offset,
		EventCount:     up.EventCount,
	}
}

func msOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func derefMigration(m *int64) int64 {
	if m == nil {
		return 0
	}
	return *m
}

// marshalDocument renders a parsed sub-document back to its JSON string
// form. Strings that failed parsing on the way in pass through untouched.
func marshalDocument(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func init() {
	f := archiveWriteCmd.Flags()
	f.StringVar(&archiveWriteFlags.dataType, "type", "events", "data type: events or updates")
	f.StringVar(&archiveWriteFlags.format, "format", "binary", "output encoding: binary or columnar")
	f.IntVar(&archiveWriteFlags.migration, "migration", 0, "migration epoch partition to write into")
	f.StringVar(&archiveWriteFlags.input, "input", "-", "JSON input file, - for stdin")
	archiveCmd.AddCommand(archiveWriteCmd)
	rootCmd.AddCommand(archiveCmd)
}
