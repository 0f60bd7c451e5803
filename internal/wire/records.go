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

// Package wire implements the legacy binary encoding of the scan archive: a
// file is a sequence of frames, each a 4-byte big-endian length followed by
// that many bytes of gzip-compressed data. The decompressed bytes are a
// protobuf batch message whose single repeated field (1) holds either event
// or update records; the file name prefix determines which.
//
// The record field set is fixed and versionless. New fields must be
// optional and defaulted; unknown fields are skipped on decode.
package wire

// Event is an event record exactly as it appears on the wire. Timestamps
// are millisecond epochs and JSON sub-documents are carried as raw strings;
// interpretation belongs to the ledger normalization boundary.
type Event struct {
	EventID        string   // 1
	UpdateID       string   // 2
	EventType      string   // 3: created | archived | exercised
	SynchronizerID string   // 4
	Migration      *int64   // 5: absent means "take it from the partition path"
	EffectiveAtMS  int64    // 6
	RecordedAtMS   int64    // 7
	ContractID     string   // 8
	TemplateID     string   // 9
	PackageName    string   // 10
	PayloadJSON    string   // 11: opaque JSON document
	Signatories    []string // 12
	Observers      []string // 13
	ActingParties  []string // 14
	WitnessParties []string // 15

	// Exercise-only fields.
	Choice        string   // 16
	Consuming     bool     // 17
	InterfaceID   string   // 18
	ChildEventIDs []string // 19
	ResultJSON    string   // 20
}

// Update is a transaction or reassignment record as it appears on the wire.
type Update struct {
	UpdateID       string   // 1
	UpdateType     string   // 2: transaction | reassignment
	SynchronizerID string   // 3
	WorkflowID     string   // 4
	CommandID      string   // 5
	RecordTimeMS   int64    // 6
	EffectiveAtMS  int64    // 7
	Offset         int64    // 8
	RootEventIDs   []string // 9
	EventCount     int64    // 10
	Migration      *int64   // 11

	// Reassignment-only fields.
	SourceSynchronizer  string // 12
	TargetSynchronizer  string // 13
	UnassignID          string // 14
	Submitter           string // 15
	ReassignmentCounter int64  // 16
}
