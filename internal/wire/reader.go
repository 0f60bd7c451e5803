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
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/cantonwatch/scanarchive/internal/partition"
)

// maxFrameSize guards against a corrupt length prefix causing a huge
// allocation. Real batches are a few MB at most.
const maxFrameSize = 256 << 20

// Reader streams records out of one legacy-binary file. The file name
// prefix determines whether records decode as events or updates.
//
// Files may be observed mid-write: a truncated trailing frame ends the
// stream cleanly instead of erroring.
type Reader struct {
	path string
	typ  partition.DataType
	f    *os.File
	br   *bufio.Reader

	events  []*Event
	updates []*Update
	idx     int
}

// NewReader opens a legacy-binary file for streaming decode.
func NewReader(path string) (*Reader, error) {
	typ, ok := partition.TypeOfFile(path)
	if !ok {
		return nil, fmt.Errorf("wire: cannot infer data type from file name %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wire: open %s: %w", path, err)
	}

	return &Reader{
		path: path,
		typ:  typ,
		f:    f,
		br:   bufio.NewReaderSize(f, 1<<20),
	}, nil
}

func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Type reports whether this file holds events or updates.
func (r *Reader) Type() partition.DataType { return r.typ }

// NextEvent returns the next event record. done is true at end of stream.
// Calling NextEvent on an updates file is an error.
func (r *Reader) NextEvent() (ev *Event, done bool, err error) {
	if r.typ != partition.DataTypeEvents {
		return nil, true, fmt.Errorf("wire: %s is not an events file", r.path)
	}
	for r.idx >= len(r.events) {
		batch, ok, err := r.nextBatch()
		if err != nil {
			return nil, true, err
		}
		if !ok {
			return nil, true, nil
		}
		r.events, err = DecodeEventBatch(batch)
		if err != nil {
			return nil, true, fmt.Errorf("wire: %s: %w", r.path, err)
		}
		r.idx = 0
	}
	ev = r.events[r.idx]
	r.idx++
	return ev, false, nil
}

// NextUpdate returns the next update record. done is true at end of stream.
func (r *Reader) NextUpdate() (up *Update, done bool, err error) {
	if r.typ != partition.DataTypeUpdates {
		return nil, true, fmt.Errorf("wire: %s is not an updates file", r.path)
	}
	for r.idx >= len(r.updates) {
		batch, ok, err := r.nextBatch()
		if err != nil {
			return nil, true, err
		}
		if !ok {
			return nil, true, nil
		}
		r.updates, err = DecodeUpdateBatch(batch)
		if err != nil {
			return nil, true, fmt.Errorf("wire: %s: %w", r.path, err)
		}
		r.idx = 0
	}
	up = r.updates[r.idx]
	r.idx++
	return up, false, nil
}

// nextBatch reads one frame and returns the decompressed batch bytes.
// ok is false at end of file or on a truncated trailing frame.
func (r *Reader) nextBatch() ([]byte, bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wire: %s: read frame length: %w", r.path, err)
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > maxFrameSize {
		return nil, false, fmt.Errorf("wire: %s: frame length %d exceeds limit", r.path, frameLen)
	}

	compressed := make([]byte, frameLen)
	if _, err := io.ReadFull(r.br, compressed); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Mid-write truncation: stop cleanly.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wire: %s: read frame body: %w", r.path, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, false, fmt.Errorf("wire: %s: gzip: %w", r.path, err)
	}
	defer func() { _ = zr.Close() }()

	batch, err := io.ReadAll(zr)
	if err != nil {
		return nil, false, fmt.Errorf("wire: %s: decompress frame: %w", r.path, err)
	}
	return batch, true, nil
}
