// Package mailbox implements the bounded command queue servos use for
// low-rate control-plane traffic. A mailbox lives in one shared segment laid
// out as
//
//	count | used | names[MaxMessages][NameLen] | ends[MaxMessages] | data[MaxBytes]
//
// with ends[i] the offset one past the last byte of message i. The segment
// mutex serializes access and a ready pulse tells the owner something was
// posted.
package mailbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/san-kum/slservo/internal/shm"
)

// NameLen is the fixed width of a message name on the wire.
const NameLen = 20

var (
	ErrFull   = errors.New("mailbox: too many pending messages")
	ErrBudget = errors.New("mailbox: byte budget exceeded")
	ErrName   = errors.New("mailbox: invalid message name")
)

const headerSize = 8

// Config bounds one mailbox.
type Config struct {
	MaxMessages int
	MaxBytes    int
	// LockTimeout bounds how long Post and Drain wait for the mutex.
	LockTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxMessages: 20,
		MaxBytes:    1000,
		LockTimeout: 50 * time.Millisecond,
	}
}

// Size returns the segment size needed for cfg.
func (c Config) Size() int {
	return headerSize + c.MaxMessages*NameLen + c.MaxMessages*4 + c.MaxBytes
}

// Message is one drained entry.
type Message struct {
	Name    string
	Payload []byte
}

// Handler receives drained messages in post order.
type Handler func(name string, payload []byte)

// Mailbox is one servo's inbound command queue.
type Mailbox struct {
	name   string
	cfg    Config
	seg    *shm.Segment
	ready  *shm.PulseSem
	logger *slog.Logger

	posted   atomic.Uint64
	rejected atomic.Uint64
	drained  atomic.Uint64
}

// Open creates or attaches the mailbox of servo name.
func Open(reg *shm.Registry, name string, cfg Config, logger *slog.Logger) (*Mailbox, error) {
	if cfg.MaxMessages <= 0 || cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("mailbox %s: invalid capacity %d/%d", name, cfg.MaxMessages, cfg.MaxBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}
	seg, err := reg.Segment(name+"_msg", cfg.Size())
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", name, err)
	}
	ready, err := reg.Pulse(name + "_msg_ready")
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", name, err)
	}
	return &Mailbox{
		name:   name,
		cfg:    cfg,
		seg:    seg,
		ready:  ready,
		logger: logger.With("mailbox", name),
	}, nil
}

func (m *Mailbox) Name() string   { return m.name }
func (m *Mailbox) Config() Config { return m.cfg }

func validName(name string) bool {
	if name == "" || len(name) > NameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] <= ' ' || name[i] > '~' {
			return false
		}
	}
	return true
}

func (m *Mailbox) namesOff() int { return headerSize }
func (m *Mailbox) endsOff() int  { return headerSize + m.cfg.MaxMessages*NameLen }
func (m *Mailbox) dataOff() int  { return m.endsOff() + m.cfg.MaxMessages*4 }

// Post appends a message. A post that does not fit is rejected and the
// mailbox is left unchanged.
func (m *Mailbox) Post(name string, payload []byte) error {
	if !validName(name) {
		m.rejected.Add(1)
		return fmt.Errorf("%w: %q", ErrName, name)
	}
	if err := m.seg.Acquire(m.cfg.LockTimeout); err != nil {
		m.rejected.Add(1)
		return fmt.Errorf("mailbox %s: post %s: %w", m.name, name, err)
	}

	b := m.seg.Bytes()
	count := int(binary.LittleEndian.Uint32(b[0:]))
	used := int(binary.LittleEndian.Uint32(b[4:]))

	switch {
	case count >= m.cfg.MaxMessages:
		m.seg.Release()
		m.rejected.Add(1)
		return fmt.Errorf("%w: %s has %d", ErrFull, m.name, count)
	case used+len(payload) > m.cfg.MaxBytes:
		m.seg.Release()
		m.rejected.Add(1)
		return fmt.Errorf("%w: %s needs %d of %d bytes", ErrBudget, m.name, used+len(payload), m.cfg.MaxBytes)
	}

	slot := b[m.namesOff()+count*NameLen : m.namesOff()+(count+1)*NameLen]
	clear(slot)
	copy(slot, name)
	copy(b[m.dataOff()+used:], payload)
	used += len(payload)
	binary.LittleEndian.PutUint32(b[m.endsOff()+count*4:], uint32(used))
	binary.LittleEndian.PutUint32(b[0:], uint32(count+1))
	binary.LittleEndian.PutUint32(b[4:], uint32(used))
	m.seg.Release()

	m.posted.Add(1)
	m.ready.Give()
	return nil
}

// Send encodes v and posts it under name.
func (m *Mailbox) Send(name string, v any) error {
	payload, err := Encode(v)
	if err != nil {
		return fmt.Errorf("mailbox %s: encode %s: %w", m.name, name, err)
	}
	return m.Post(name, payload)
}

// Take removes all pending messages. It never blocks on the ready pulse;
// with nothing posted it returns nil.
func (m *Mailbox) Take(ctx context.Context) ([]Message, error) {
	if err := m.ready.Wait(ctx, shm.NoWait); err != nil {
		if errors.Is(err, shm.ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}
	if err := m.seg.Acquire(m.cfg.LockTimeout); err != nil {
		// Keep the wake so the next tick retries.
		m.ready.Give()
		return nil, fmt.Errorf("mailbox %s: drain: %w", m.name, err)
	}

	b := m.seg.Bytes()
	count := int(binary.LittleEndian.Uint32(b[0:]))
	msgs := make([]Message, 0, count)
	start := 0
	for i := 0; i < count; i++ {
		raw := b[m.namesOff()+i*NameLen : m.namesOff()+(i+1)*NameLen]
		n := 0
		for n < NameLen && raw[n] != 0 {
			n++
		}
		end := int(binary.LittleEndian.Uint32(b[m.endsOff()+i*4:]))
		payload := make([]byte, end-start)
		copy(payload, b[m.dataOff()+start:m.dataOff()+end])
		msgs = append(msgs, Message{Name: string(raw[:n]), Payload: payload})
		start = end
	}
	binary.LittleEndian.PutUint32(b[0:], 0)
	binary.LittleEndian.PutUint32(b[4:], 0)
	m.seg.Release()

	m.drained.Add(uint64(len(msgs)))
	return msgs, nil
}

// Drain takes all pending messages and hands them to h in post order.
// Messages posted while h runs are seen on the next drain.
func (m *Mailbox) Drain(ctx context.Context, h Handler) (int, error) {
	msgs, err := m.Take(ctx)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		h(msg.Name, msg.Payload)
	}
	return len(msgs), nil
}

// Pending returns the number of queued messages.
func (m *Mailbox) Pending() (int, error) {
	var n int
	err := m.seg.Read(m.cfg.LockTimeout, func(b []byte) {
		n = int(binary.LittleEndian.Uint32(b[0:]))
	})
	return n, err
}

// Stats is a snapshot of a mailbox's counters.
type Stats struct {
	Posted   uint64
	Rejected uint64
	Drained  uint64
}

func (m *Mailbox) Stats() Stats {
	return Stats{
		Posted:   m.posted.Load(),
		Rejected: m.rejected.Load(),
		Drained:  m.drained.Load(),
	}
}
