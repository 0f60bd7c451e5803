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

// Package ledger defines the canonical record shapes callers see,
// regardless of which on-disk encoding produced them, and the
// normalization boundary that maps encoding-specific field names and
// representations onto those shapes. Nothing outside this package should
// ever see an encoding-specific field name.
package ledger

import "time"

// Event is a single ledger event (create, archive, or exercise) in
// canonical form. Payload and ExerciseResult hold parsed JSON when the
// source document parses, or the raw string when it does not.
type Event struct {
	EventID        string     `json:"event_id"`
	UpdateID       string     `json:"update_id"`
	EventType      string     `json:"event_type"`
	SynchronizerID string     `json:"synchronizer_id,omitempty"`
	Migration      *int64     `json:"migration_id,omitempty"`
	EffectiveAt    time.Time  `json:"effective_at"`
	RecordedAt     time.Time  `json:"recorded_at"`
	ContractID     string     `json:"contract_id,omitempty"`
	TemplateID     string     `json:"template_id,omitempty"`
	PackageName    string     `json:"package_name,omitempty"`
	Payload        any        `json:"payload,omitempty"`
	Signatories    []string   `json:"signatories"`
	Observers      []string   `json:"observers"`
	ActingParties  []string   `json:"acting_parties"`
	WitnessParties []string   `json:"witness_parties"`

	// Exercise-only fields.
	Choice         string   `json:"choice,omitempty"`
	Consuming      bool     `json:"consuming,omitempty"`
	InterfaceID    string   `json:"interface_id,omitempty"`
	ChildEventIDs  []string `json:"child_event_ids"`
	ExerciseResult any      `json:"exercise_result,omitempty"`
}

// Update is a transaction or reassignment in canonical form.
type Update struct {
	UpdateID       string    `json:"update_id"`
	UpdateType     string    `json:"update_type"`
	SynchronizerID string    `json:"synchronizer_id,omitempty"`
	WorkflowID     string    `json:"workflow_id,omitempty"`
	CommandID      string    `json:"command_id,omitempty"`
	Migration      *int64    `json:"migration_id,omitempty"`
	RecordTime     time.Time `json:"record_time"`
	EffectiveAt    time.Time `json:"effective_at"`
	Offset         int64     `json:"offset,omitempty"`
	RootEventIDs   []string  `json:"root_event_ids"`
	EventCount     int64     `json:"event_count,omitempty"`

	// Reassignment-only fields.
	SourceSynchronizer  string `json:"source_synchronizer,omitempty"`
	TargetSynchronizer  string `json:"target_synchronizer,omitempty"`
	UnassignID          string `json:"unassign_id,omitempty"`
	Submitter           string `json:"submitter,omitempty"`
	ReassignmentCounter int64  `json:"reassignment_counter,omitempty"`
}

// Record is the tagged union handed to streaming callers. Exactly one of
// Event or Update is set.
type Record struct {
	Event  *Event  `json:"event,omitempty"`
	Update *Update `json:"update,omitempty"`
}

// ID returns the record's primary identifier, used as the pagination
// tie-break so ordering is total within one call.
func (r Record) ID() string {
	if r.Event != nil {
		return r.Event.EventID
	}
	if r.Update != nil {
		return r.Update.UpdateID
	}
	return ""
}

// SortTime returns the record's value for the named sort field. Missing or
// invalid dates come back as the zero time, which descending sorts place
// last.
func (r Record) SortTime(field string) time.Time {
	switch {
	case r.Event != nil:
		switch field {
		case "recorded_at":
			return r.Event.RecordedAt
		default:
			return r.Event.EffectiveAt
		}
	case r.Update != nil:
		switch field {
		case "effective_at":
			return r.Update.EffectiveAt
		default:
			return r.Update.RecordTime
		}
	}
	return time.Time{}
}
