// Package framing implements the native messaging wire format: every message is
// a 4-byte little-endian length prefix followed by that many bytes of UTF-8 JSON.
//
// The same framing is used in both directions. A Channel owns the stream pair
// handed to it and is not safe for concurrent use.
package framing

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	prefixSize = 4

	// DefaultMaxInbound bounds frames read from the browser so a corrupt prefix
	// cannot trigger a multi-gigabyte allocation.
	DefaultMaxInbound = 64 << 20

	// DefaultMaxOutbound is the largest message a browser accepts from a host.
	DefaultMaxOutbound = 1 << 20
)

// Message is a decoded JSON object.
type Message map[string]any

// Options tunes the size limits of a Channel. Zero values select the defaults.
type Options struct {
	MaxInbound  uint32
	MaxOutbound uint32
}

// Channel reads and writes length-prefixed JSON frames.
type Channel struct {
	r           io.Reader
	w           *bufio.Writer
	maxInbound  uint32
	maxOutbound uint32
}

// New creates a Channel reading frames from r and writing frames to w.
func New(r io.Reader, w io.Writer, opts Options) *Channel {
	if opts.MaxInbound == 0 {
		opts.MaxInbound = DefaultMaxInbound
	}
	if opts.MaxOutbound == 0 {
		opts.MaxOutbound = DefaultMaxOutbound
	}
	return &Channel{
		r:           r,
		w:           bufio.NewWriter(w),
		maxInbound:  opts.MaxInbound,
		maxOutbound: opts.MaxOutbound,
	}
}

// Send encodes msg as one frame and flushes it so the peer sees it immediately.
func (c *Channel) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if uint64(len(payload)) > uint64(c.maxOutbound) {
		return fmt.Errorf("%w: outbound %d bytes, limit %d", ErrFrameTooLarge, len(payload), c.maxOutbound)
	}

	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := c.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Receive reads the next frame. It returns io.EOF when the stream is closed
// cleanly before a new frame starts; every other failure matches ErrFraming
// or is an I/O error from the underlying reader.
//
// A payload that is valid JSON but not an object yields an empty Message.
func (c *Channel) Receive() (Message, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrTruncatedPrefix
		default:
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
	}

	n := binary.LittleEndian.Uint32(prefix[:])
	if n > c.maxInbound {
		return nil, fmt.Errorf("%w: inbound %d bytes, limit %d", ErrFrameTooLarge, n, c.maxInbound)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes", ErrTruncatedPayload, n)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return decode(payload)
}

func decode(payload []byte) (Message, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	// Trailing data after the first value means the frame was not one JSON document.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidPayload)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return Message{}, nil
	}
	return Message(obj), nil
}
