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
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Writer appends framed, compressed batches to a legacy-binary file. It is
// the encode half of the codec; the archive ingestion pipeline proper lives
// outside this repo, but the writer keeps fixtures and the CLI honest.
type Writer struct {
	f *os.File
}

// NewWriter creates (or truncates) a legacy-binary file.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wire: create %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// WriteEventBatch writes one frame containing the given events.
func (w *Writer) WriteEventBatch(events []*Event) error {
	return w.writeFrame(EncodeEventBatch(events))
}

// WriteUpdateBatch writes one frame containing the given updates.
func (w *Writer) WriteUpdateBatch(updates []*Update) error {
	return w.writeFrame(EncodeUpdateBatch(updates))
}

func (w *Writer) writeFrame(batch []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(batch); err != nil {
		return fmt.Errorf("wire: compress frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("wire: compress frame: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(buf.Len()))
	if _, err := w.f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}
