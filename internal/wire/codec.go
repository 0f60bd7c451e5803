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
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const batchRecordField = 1

// DecodeEventBatch decodes a decompressed batch message into event records.
func DecodeEventBatch(b []byte) ([]*Event, error) {
	var out []*Event
	err := eachBatchRecord(b, func(rec []byte) error {
		ev, err := decodeEvent(rec)
		if err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// DecodeUpdateBatch decodes a decompressed batch message into update records.
func DecodeUpdateBatch(b []byte) ([]*Update, error) {
	var out []*Update
	err := eachBatchRecord(b, func(rec []byte) error {
		up, err := decodeUpdate(rec)
		if err != nil {
			return err
		}
		out = append(out, up)
		return nil
	})
	return out, err
}

func eachBatchRecord(b []byte, fn func(rec []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("batch: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == batchRecordField && typ == protowire.BytesType {
			rec, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("batch: bad record field: %w", protowire.ParseError(n))
			}
			if err := fn(rec); err != nil {
				return err
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("batch: bad field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func decodeEvent(b []byte) (*Event, error) {
	ev := &Event{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			ev.EventID = string(v)
		case 2:
			ev.UpdateID = string(v)
		case 3:
			ev.EventType = string(v)
		case 4:
			ev.SynchronizerID = string(v)
		case 5:
			m := int64(u)
			ev.Migration = &m
		case 6:
			ev.EffectiveAtMS = int64(u)
		case 7:
			ev.RecordedAtMS = int64(u)
		case 8:
			ev.ContractID = string(v)
		case 9:
			ev.TemplateID = string(v)
		case 10:
			ev.PackageName = string(v)
		case 11:
			ev.PayloadJSON = string(v)
		case 12:
			ev.Signatories = append(ev.Signatories, string(v))
		case 13:
			ev.Observers = append(ev.Observers, string(v))
		case 14:
			ev.ActingParties = append(ev.ActingParties, string(v))
		case 15:
			ev.WitnessParties = append(ev.WitnessParties, string(v))
		case 16:
			ev.Choice = string(v)
		case 17:
			ev.Consuming = u != 0
		case 18:
			ev.InterfaceID = string(v)
		case 19:
			ev.ChildEventIDs = append(ev.ChildEventIDs, string(v))
		case 20:
			ev.ResultJSON = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("event record: %w", err)
	}
	return ev, nil
}

func decodeUpdate(b []byte) (*Update, error) {
	up := &Update{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			up.UpdateID = string(v)
		case 2:
			up.UpdateType = string(v)
		case 3:
			up.SynchronizerID = string(v)
		case 4:
			up.WorkflowID = string(v)
		case 5:
			up.CommandID = string(v)
		case 6:
			up.RecordTimeMS = int64(u)
		case 7:
			up.EffectiveAtMS = int64(u)
		case 8:
			up.Offset = int64(u)
		case 9:
			up.RootEventIDs = append(up.RootEventIDs, string(v))
		case 10:
			up.EventCount = int64(u)
		case 11:
			m := int64(u)
			up.Migration = &m
		case 12:
			up.SourceSynchronizer = string(v)
		case 13:
			up.TargetSynchronizer = string(v)
		case 14:
			up.UnassignID = string(v)
		case 15:
			up.Submitter = string(v)
		case 16:
			up.ReassignmentCounter = int64(u)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return up, nil
}

// eachField walks a record message, handing each field to fn. Bytes fields
// arrive in v, varint fields in u. Unknown wire types are skipped so a
// newer writer never breaks an older reader.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("bad bytes field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[n:]
		case protowire.VarintType:
			u, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("bad varint field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// EncodeEventBatch encodes event records as one batch message.
func EncodeEventBatch(events []*Event) []byte {
	var b []byte
	for _, ev := range events {
		b = protowire.AppendTag(b, batchRecordField, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeEvent(ev))
	}
	return b
}

// EncodeUpdateBatch encodes update records as one batch message.
func EncodeUpdateBatch(updates []*Update) []byte {
	var b []byte
	for _, up := range updates {
		b = protowire.AppendTag(b, batchRecordField, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeUpdate(up))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStrings(b []byte, num protowire.Number, ss []string) []byte {
	for _, s := range ss {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func encodeEvent(ev *Event) []byte {
	var b []byte
	b = appendString(b, 1, ev.EventID)
	b = appendString(b, 2, ev.UpdateID)
	b = appendString(b, 3, ev.EventType)
	b = appendString(b, 4, ev.SynchronizerID)
	if ev.Migration != nil {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*ev.Migration))
	}
	b = appendVarint(b, 6, ev.EffectiveAtMS)
	b = appendVarint(b, 7, ev.RecordedAtMS)
	b = appendString(b, 8, ev.ContractID)
	b = appendString(b, 9, ev.TemplateID)
	b = appendString(b, 10, ev.PackageName)
	b = appendString(b, 11, ev.PayloadJSON)
	b = appendStrings(b, 12, ev.Signatories)
	b = appendStrings(b, 13, ev.Observers)
	b = appendStrings(b, 14, ev.ActingParties)
	b = appendStrings(b, 15, ev.WitnessParties)
	b = appendString(b, 16, ev.Choice)
	if ev.Consuming {
		b = protowire.AppendTag(b, 17, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = appendString(b, 18, ev.InterfaceID)
	b = appendStrings(b, 19, ev.ChildEventIDs)
	b = appendString(b, 20, ev.ResultJSON)
	return b
}

func encodeUpdate(up *Update) []byte {
	var b []byte
	b = appendString(b, 1, up.UpdateID)
	b = appendString(b, 2, up.UpdateType)
	b = appendString(b, 3, up.SynchronizerID)
	b = appendString(b, 4, up.WorkflowID)
	b = appendString(b, 5, up.CommandID)
	b = appendVarint(b, 6, up.RecordTimeMS)
	b = appendVarint(b, 7, up.EffectiveAtMS)
	b = appendVarint(b, 8, up.Offset)
	b = appendStrings(b, 9, up.RootEventIDs)
	b = appendVarint(b, 10, up.EventCount)
	if up.Migration != nil {
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*up.Migration))
	}
	b = appendString(b, 12, up.SourceSynchronizer)
	b = appendString(b, 13, up.TargetSynchronizer)
	b = appendString(b, 14, up.UnassignID)
	b = appendString(b, 15, up.Submitter)
	b = appendVarint(b, 16, up.ReassignmentCounter)
	return b
}
