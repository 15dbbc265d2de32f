package tensor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Entry layout inside the zstd stream:
//
//	magic "DFT1" | rank uint32 | dims uint32 x rank | float32 x numel (little endian)
var magic = [4]byte{'D', 'F', 'T', '1'}

const maxRank = 8

// maxElements bounds a decoded tensor to 1 GiB of float32 data.
const maxElements = 1 << 28

// ErrBadMagic is returned when a stream does not start with the tensor header.
var ErrBadMagic = errors.New("tensor: bad magic")

// Encode writes t to w as a zstd-compressed frame.
func Encode(w io.Writer, t Tensor) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Rank() > maxRank {
		return fmt.Errorf("tensor: rank %d exceeds %d", t.Rank(), maxRank)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)

	header := make([]byte, 0, 8+4*t.Rank())
	header = append(header, magic[:]...)
	header = binary.LittleEndian.AppendUint32(header, uint32(t.Rank()))
	for _, d := range t.Shape {
		header = binary.LittleEndian.AppendUint32(header, uint32(d))
	}
	if _, err := bw.Write(header); err != nil {
		enc.Close()
		return err
	}

	var buf [4]byte
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Decode reads a tensor written by Encode.
func Decode(r io.Reader) (Tensor, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Tensor{}, err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	var head [8]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return Tensor{}, fmt.Errorf("tensor: read header: %w", err)
	}
	if [4]byte(head[:4]) != magic {
		return Tensor{}, ErrBadMagic
	}
	rank := int(binary.LittleEndian.Uint32(head[4:]))
	if rank > maxRank {
		return Tensor{}, fmt.Errorf("tensor: rank %d exceeds %d", rank, maxRank)
	}

	dims := make([]byte, 4*rank)
	if _, err := io.ReadFull(br, dims); err != nil {
		return Tensor{}, fmt.Errorf("tensor: read shape: %w", err)
	}
	shape := make([]int, rank)
	for i := range shape {
		shape[i] = int(binary.LittleEndian.Uint32(dims[4*i:]))
	}
	n, err := elements(shape)
	if err != nil {
		return Tensor{}, err
	}

	// Read no more than the header promises; the buffer grows with the bytes
	// actually present, so a lying header cannot force a large allocation.
	raw, err := io.ReadAll(io.LimitReader(br, int64(4*n)+1))
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor: read data: %w", err)
	}
	if len(raw) != 4*n {
		return Tensor{}, fmt.Errorf("tensor: shape %v wants %d data bytes, have %d", shape, 4*n, len(raw))
	}

	t := Tensor{Shape: shape, Data: make([]float32, n)}
	for i := range t.Data {
		t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return t, nil
}

// elements multiplies dims, failing instead of overflowing.
func elements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 || (d > 0 && n > maxElements/d) {
			return 0, fmt.Errorf("tensor: shape %v exceeds %d elements", shape, maxElements)
		}
		n *= d
	}
	return n, nil
}
