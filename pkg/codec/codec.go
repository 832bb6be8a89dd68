// Package codec implements the low-level serialization primitives of the
// binary ONE encoding: varint and zigzag integers, little-endian reals,
// length-prefixed strings, 2-bit packed nucleotide sequences, and zstd block
// compression for bulky list payloads.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

func WriteUvarint(w io.Writer, value uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, value)
	if _, err := w.Write(buf[:n]); err != nil {
		return fmt.Errorf("failed to write varint: %w", err)
	}
	return nil
}

func ReadUvarint(r io.ByteReader) (uint64, error) {
	value, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read varint: %w", err)
	}
	return value, nil
}

// ZigZagEncode int64 => uint64.
func ZigZagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

// ZigZagDecode uint64 => int64.
func ZigZagDecode(z uint64) int64 {
	return int64((z >> 1) ^ uint64((int64(z&1)<<63)>>63))
}

func WriteVarint(w io.Writer, value int64) error {
	return WriteUvarint(w, ZigZagEncode(value))
}

func ReadVarint(r io.ByteReader) (int64, error) {
	z, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return ZigZagDecode(z), nil
}

func WriteReal(w io.Writer, value float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(value))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write real: %w", err)
	}
	return nil
}

func ReadReal(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read real: %w", err)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteString writes a length-prefixed byte string.
func WriteString(w io.Writer, s string) error {
	if err := WriteUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("failed to write string: %w", err)
	}
	return nil
}

type byteAndFullReader interface {
	io.ByteReader
	io.Reader
}

func ReadString(r byteAndFullReader) (string, error) {
	n, err := ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read string: %w", err)
	}
	return string(buf), nil
}

// EncodeIntList encodes a slice of int64 using Delta Encoding -> ZigZag -> Varint.
func EncodeIntList(values []int64) []byte {
	tmpBuf := make([]byte, binary.MaxVarintLen64)
	var buf bytes.Buffer
	var prev int64 = 0
	for _, v := range values {
		delta := v - prev
		prev = v
		n := binary.PutUvarint(tmpBuf, ZigZagEncode(delta))
		buf.Write(tmpBuf[:n])
	}
	return buf.Bytes()
}

// DecodeIntList decodes count values written by EncodeIntList.
func DecodeIntList(r io.ByteReader, count int64) ([]int64, error) {
	values := make([]int64, count)
	var prev int64 = 0
	for i := range values {
		delta, err := ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode int list at %d: %w", i, err)
		}
		prev += delta
		values[i] = prev
	}
	return values, nil
}

// EncodeRealList encodes a slice of float64 as 8-byte little-endian words.
func EncodeRealList(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// DecodeRealList decodes count values written by EncodeRealList.
func DecodeRealList(r io.Reader, count int64) ([]float64, error) {
	buf := make([]byte, 8*count)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to decode real list: %w", err)
	}
	values := make([]float64, count)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}

// Nucleotide packing. Bases map to 2-bit codes a=0 c=1 g=2 t=3, case
// insensitive; anything else packs as 'a'.

var baseCode = [256]byte{'c': 1, 'C': 1, 'g': 2, 'G': 2, 't': 3, 'T': 3}

var codeBase = [4]byte{'a', 'c', 'g', 't'}

// PackDNA packs a nucleotide sequence 4 bases per byte, first base in the
// low-order bits.
func PackDNA(seq []byte) []byte {
	packed := make([]byte, (len(seq)+3)/4)
	for i, b := range seq {
		packed[i/4] |= baseCode[b] << uint((i%4)*2)
	}
	return packed
}

// UnpackDNA expands count bases from a 2-bit packed buffer.
func UnpackDNA(packed []byte, count int64) []byte {
	seq := make([]byte, count)
	for i := range seq {
		seq[i] = codeBase[(packed[i/4]>>uint((i%4)*2))&3]
	}
	return seq
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// Compress returns the zstd compression of src.
func Compress(src []byte) []byte {
	return zstdEncoder.EncodeAll(src, nil)
}

// Decompress reverses Compress.
func Decompress(src []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return out, nil
}
