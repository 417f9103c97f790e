// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/nine-minds/alga-remote/lib/codec"
)

// maxFrameRecord bounds a single encoded frame record on the wire.
const maxFrameRecord = 64 << 20

// FrameRecord is the wire form of one frame on the frames channel:
// CBOR header and zstd-compressed pixel data, length-prefixed.
type FrameRecord struct {
	Seq         uint64 `cbor:"1,keyasint"`
	Width       int    `cbor:"2,keyasint"`
	Height      int    `cbor:"3,keyasint"`
	Stride      int    `cbor:"4,keyasint"`
	PixelFormat string `cbor:"5,keyasint"`
	CapturedAt  int64  `cbor:"6,keyasint"` // Unix milliseconds
	Data        []byte `cbor:"7,keyasint"` // zstd-compressed pixels
	Placeholder bool   `cbor:"8,keyasint,omitempty"`
}

// FrameEncoder writes frame records to a stream. Not safe for
// concurrent use.
type FrameEncoder struct {
	w    io.Writer
	zstd *zstd.Encoder
	seq  uint64
}

// NewFrameEncoder builds an encoder. Compression favors speed: screen
// frames arrive thirty times a second and latency beats ratio.
func NewFrameEncoder(w io.Writer) (*FrameEncoder, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("capture: creating zstd encoder: %w", err)
	}
	return &FrameEncoder{w: w, zstd: encoder}, nil
}

// Encode compresses and writes one frame.
func (e *FrameEncoder) Encode(frame *Frame, placeholder bool) error {
	e.seq++
	record := FrameRecord{
		Seq:         e.seq,
		Width:       frame.Width,
		Height:      frame.Height,
		Stride:      frame.Stride,
		PixelFormat: PixelFormatBGRA,
		CapturedAt:  frame.At.UnixMilli(),
		Data:        e.zstd.EncodeAll(frame.Data, nil),
		Placeholder: placeholder,
	}
	payload, err := codec.Marshal(&record)
	if err != nil {
		return fmt.Errorf("capture: encoding frame record: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := e.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = e.w.Write(payload)
	return err
}

// Close releases the compressor.
func (e *FrameEncoder) Close() error {
	e.zstd.Close()
	return nil
}

// FrameDecoder reads frame records from a stream (the viewer side and
// tests).
type FrameDecoder struct {
	r    io.Reader
	zstd *zstd.Decoder
}

func NewFrameDecoder(r io.Reader) (*FrameDecoder, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("capture: creating zstd decoder: %w", err)
	}
	return &FrameDecoder{r: r, zstd: decoder}, nil
}

// Decode reads one record and decompresses its pixel data in place.
func (d *FrameDecoder) Decode() (*FrameRecord, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameRecord {
		return nil, fmt.Errorf("capture: frame record of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, err
	}
	var record FrameRecord
	if err := codec.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("capture: decoding frame record: %w", err)
	}
	pixels, err := d.zstd.DecodeAll(record.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: decompressing frame: %w", err)
	}
	record.Data = pixels
	return &record, nil
}

func (d *FrameDecoder) Close() error {
	d.zstd.Close()
	return nil
}
