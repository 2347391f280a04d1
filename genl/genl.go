// Package genl implements the generic-netlink message schema and codec: a
// declarative command table for one kernel family (command name -> expected
// attribute-list schema), the 4-byte genl header pack/unpack, and the
// process-wide family-id registry that maps a 16-bit netlink type to the
// schema (or built-in control message) responsible for decoding it.
package genl

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/vishvananda/netlink/nl"

	"github.com/m-lab/gnl/attr"
)

// Flag bits used on the outer netlink header.
const (
	FlagRequest  = 1
	FlagMulti    = 2
	FlagAck      = 4
	FlagEcho     = 8
	FlagDumpIntr = 16
	FlagRoot     = 0x100
	FlagMatch    = 0x200
	FlagAtomic   = 0x400

	// FlagAckRequest is the default flag set for a single mutating request
	// that wants a kernel ACK.
	FlagAckRequest = FlagRequest | FlagAck
	// FlagDumpRequest is the default flag set for a DUMP-style enumeration
	// request.
	FlagDumpRequest = FlagMatch | FlagRoot | FlagRequest
)

// Reserved netlink types that are not genl families but are always present
// in the registry.
const (
	TypeError = 2
	TypeDone  = 3
	// TypeControl is the well-known generic-netlink control family id,
	// used to resolve other families' names to ids.
	TypeControl = 16
)

// Message is anything the registry can hand back from a decoded frame: a
// genl command instance, a kernel ErrorMsg, or a DoneMsg terminating a
// multi-part reply.
type Message interface {
	Flags() uint16
}

// decoder is implemented by anything the registry can dispatch a raw genl
// (or reserved) payload to.
type decoder interface {
	decodeFrame(flags uint16, payload []byte) (Message, error)
}

// Family identifies where a MessageSchema's numeric netlink type comes
// from: a fixed, already-known id, or a name to be resolved at bootstrap
// via CTRL_CMD_GETFAMILY.
type Family struct {
	name   string
	id     uint16
	byName bool
}

// ByName declares a family that must be resolved by name at bootstrap.
func ByName(name string) Family { return Family{name: name, byName: true} }

// ByID declares a family with an already-known numeric id (e.g. the
// control family itself, or the reserved error/done pseudo-families).
func ByID(id uint16) Family { return Family{id: id} }

// Command is one (name, attribute-schema) pair in a MessageSchema's command
// table. attrs may be nil: the command carries no attributes.
type Command struct {
	Name  string
	Attrs *attr.Schema
}

// Cmd is a convenience constructor for Command.
func Cmd(name string, attrs *attr.Schema) Command {
	return Command{Name: name, Attrs: attrs}
}

type command struct {
	name  string
	attrs *attr.Schema
}

// Option configures a MessageSchema at construction.
type Option func(*MessageSchema)

// WithRequiredModules declares kernel modules that must be loaded before
// this family's commands will work. Loading is the host's concern; the
// library only records the requirement for bootstrap to act on.
func WithRequiredModules(mods ...string) Option {
	return func(s *MessageSchema) { s.requiredModules = append(s.requiredModules, mods...) }
}

// MessageSchema is a declared command table for one generic-netlink family:
// data, not logic.
type MessageSchema struct {
	name      string
	family    Family
	commands  []command
	nameToKey map[string]int

	mu              sync.RWMutex
	resolved        bool
	familyID        uint16
	requiredModules []string
}

// NewMessageSchema declares a new family schema and registers it with
// DefaultRegistry. Re-declaring an already-registered numeric family id, or
// re-declaring a pending family name twice, is a programming error and
// panics.
func NewMessageSchema(name string, family Family, commands []Command, opts ...Option) *MessageSchema {
	s := &MessageSchema{name: name, family: family, nameToKey: map[string]int{}}
	for i, c := range commands {
		if c.Name == "" {
			panic(fmt.Sprintf("genl: %s: command %d has an empty name", name, i+1))
		}
		key := i + 1
		upper := strings.ToUpper(c.Name)
		if _, dup := s.nameToKey[upper]; dup {
			panic(fmt.Sprintf("genl: %s: duplicate command name %q", name, c.Name))
		}
		s.commands = append(s.commands, command{name: c.Name, attrs: c.Attrs})
		s.nameToKey[upper] = key
	}
	for _, opt := range opts {
		opt(s)
	}
	if family.byName {
		DefaultRegistry.registerPending(s)
	} else {
		s.familyID = family.id
		s.resolved = true
		DefaultRegistry.registerResolved(s.familyID, s)
	}
	return s
}

// Name returns the schema's declared name.
func (s *MessageSchema) Name() string { return s.name }

// Extend appends additional commands after an already-declared schema's
// command table, continuing the 1-based key sequence. This supports the
// rare case of one wire family whose command table is split across more
// than one Go package's declarations (e.g. TASKSTATS, shared by taskstats
// and cgroupstats): the second package extends the first's schema instead
// of declaring a conflicting family registration of its own. Re-using an
// already-declared command name is a programming error and panics.
func (s *MessageSchema) Extend(cmds ...Command) *MessageSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := len(s.commands)
	for i, c := range cmds {
		if c.Name == "" {
			panic(fmt.Sprintf("genl: %s: extended command %d has an empty name", s.name, i+1))
		}
		key := base + i + 1
		upper := strings.ToUpper(c.Name)
		if _, dup := s.nameToKey[upper]; dup {
			panic(fmt.Sprintf("genl: %s: duplicate command name %q", s.name, c.Name))
		}
		s.commands = append(s.commands, command{name: c.Name, attrs: c.Attrs})
		s.nameToKey[upper] = key
	}
	return s
}

// RequiredModules returns the kernel modules this family declared as
// required, in declaration order.
func (s *MessageSchema) RequiredModules() []string {
	return append([]string(nil), s.requiredModules...)
}

// FamilyID returns the resolved numeric family id, or an error if this
// schema was declared by name and bootstrap has not yet resolved it.
func (s *MessageSchema) FamilyID() (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.resolved {
		return 0, fmt.Errorf("genl: family %q is not yet resolved", s.family.name)
	}
	return s.familyID, nil
}

func (s *MessageSchema) keyOf(cmd any) (int, error) {
	switch c := cmd.(type) {
	case int:
		if c < 1 || c > len(s.commands) {
			return 0, fmt.Errorf("genl: %s has no command key %d", s.name, c)
		}
		return c, nil
	case string:
		k, ok := s.nameToKey[strings.ToUpper(c)]
		if !ok {
			return 0, fmt.Errorf("genl: %s has no command named %q", s.name, c)
		}
		return k, nil
	default:
		return 0, fmt.Errorf("genl: command must be int or string, got %T", cmd)
	}
}

// Msg is one bound genl message instance: a command, protocol version,
// netlink flags, and an attribute-list instance (nil if the command carries
// none).
type Msg struct {
	Schema  *MessageSchema
	Cmd     int
	Version uint8
	Attrs   *attr.Instance

	flags uint16
}

// Flags implements Message.
func (m *Msg) Flags() uint16 { return m.flags }

// SetFlags sets the outer netlink flags this message will be sent (or was
// received) with, and returns m for chaining.
func (m *Msg) SetFlags(flags uint16) *Msg {
	m.flags = flags
	return m
}

// CommandName returns the declared name of m's command.
func (m *Msg) CommandName() string { return m.Schema.commands[m.Cmd-1].name }

// NewMsg builds an outgoing message for cmd (name or 1-based key) bound to
// attrs. Supplying attrs for a command whose schema declares no attribute
// list (or of the wrong schema) is a programming error and panics.
// Version defaults to 1, flags default to 0 (callers normally pass a
// message straight to a socket helper that sets flags for them).
func (s *MessageSchema) NewMsg(cmd any, attrs *attr.Instance) *Msg {
	key, err := s.keyOf(cmd)
	if err != nil {
		panic(err)
	}
	c := s.commands[key-1]
	if attrs != nil {
		if c.attrs == nil {
			panic(fmt.Sprintf("genl: %s.%s has no attribute schema but attrs were supplied", s.name, c.name))
		}
		if attrs.Schema() != c.attrs {
			panic(fmt.Sprintf("genl: %s.%s attrs belong to schema %s, want %s", s.name, c.name, attrs.Schema().Name(), c.attrs.Name()))
		}
	}
	return &Msg{Schema: s, Cmd: key, Version: 1, Attrs: attrs}
}

// pack emits the 4-byte genl header followed by the attribute list (if the
// command has one).
func (m *Msg) pack() ([]byte, error) {
	out := []byte{byte(m.Cmd), m.Version, 0, 0}
	c := m.Schema.commands[m.Cmd-1]
	if c.attrs == nil {
		return out, nil
	}
	if m.Attrs == nil {
		return out, nil
	}
	body, err := c.attrs.Pack(m.Attrs)
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

func (s *MessageSchema) decodeFrame(flags uint16, payload []byte) (Message, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("genl: %s: short genl header (%d bytes)", s.name, len(payload))
	}
	cmd := int(payload[0])
	version := payload[1]
	if cmd < 1 || cmd > len(s.commands) {
		return nil, fmt.Errorf("genl: %s: unknown command %d", s.name, cmd)
	}
	c := s.commands[cmd-1]
	var attrs *attr.Instance
	if c.attrs != nil {
		v, err := c.attrs.Unpack(payload[4:])
		if err != nil {
			return nil, fmt.Errorf("genl: %s.%s: %w", s.name, c.name, err)
		}
		attrs = v.(*attr.Instance)
	}
	return &Msg{Schema: s, Cmd: cmd, Version: version, Attrs: attrs, flags: flags}, nil
}

// ErrorMsg is the kernel's reply to a request, carrying a negated errno (0
// on success) and, best-effort, the request it is acknowledging.
type ErrorMsg struct {
	// Errno is the raw value the kernel sent: 0 means success, otherwise a
	// negative errno (e.g. -EEXIST).
	Errno   int32
	Request *Msg

	flags uint16
}

// Flags implements Message.
func (m *ErrorMsg) Flags() uint16 { return m.flags }

type errorDecoder struct{}

func (errorDecoder) decodeFrame(flags uint16, payload []byte) (Message, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("genl: error message shorter than 4 bytes")
	}
	errno := int32(nl.NativeEndian().Uint32(payload[0:4]))
	em := &ErrorMsg{Errno: errno, flags: flags}
	if len(payload) > 4 {
		// The kernel echoes the offending request (a full netlink frame)
		// after the error code. Decoding it is best-effort: a failure here
		// must not hide the error itself.
		if msg, _, err := DecodeFrame(DefaultRegistry, payload[4:]); err == nil {
			if m, ok := msg.(*Msg); ok {
				em.Request = m
			}
		}
	}
	return em, nil
}

// DoneMsg terminates a multi-part (DUMP) reply.
type DoneMsg struct {
	flags uint16
}

// Flags implements Message.
func (m *DoneMsg) Flags() uint16 { return m.flags }

type doneDecoder struct{}

func (doneDecoder) decodeFrame(flags uint16, _ []byte) (Message, error) {
	return &DoneMsg{flags: flags}, nil
}

// Registry is a process-wide table mapping numeric netlink type to the
// decoder responsible for it, plus the set of schemas still waiting to have
// their named family resolved to a numeric id.
type Registry struct {
	mu      sync.Mutex
	byID    map[uint16]decoder
	pending map[string]*MessageSchema
}

// DefaultRegistry is the single process-wide registry every MessageSchema
// registers itself with. Two entries are present from start-up: 2 = error
// reply, 3 = done reply.
var DefaultRegistry = newRegistry()

func newRegistry() *Registry {
	r := &Registry{
		byID:    map[uint16]decoder{},
		pending: map[string]*MessageSchema{},
	}
	r.byID[TypeError] = errorDecoder{}
	r.byID[TypeDone] = doneDecoder{}
	return r
}

func (r *Registry) registerResolved(id uint16, s *MessageSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[id]; dup {
		panic(fmt.Sprintf("genl: family id %d is already registered", id))
	}
	r.byID[id] = s
}

func (r *Registry) registerPending(s *MessageSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.pending[s.family.name]; dup {
		panic(fmt.Sprintf("genl: family name %q is already registered", s.family.name))
	}
	r.pending[s.family.name] = s
}

// PendingFamily describes one not-yet-resolved family schema.
type PendingFamily struct {
	Name            string
	RequiredModules []string
}

// Pending returns every family schema still waiting for name resolution.
func (r *Registry) Pending() []PendingFamily {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingFamily, 0, len(r.pending))
	for name, s := range r.pending {
		out = append(out, PendingFamily{Name: name, RequiredModules: s.RequiredModules()})
	}
	return out
}

// Resolve assigns the numeric id to the pending family named name, moving
// it into the resolved table. It is an error to resolve a name that has no
// pending schema, or to resolve to an id that is already registered.
func (r *Registry) Resolve(name string, id uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.pending[name]
	if !ok {
		return fmt.Errorf("genl: no pending family named %q", name)
	}
	if _, dup := r.byID[id]; dup {
		return fmt.Errorf("genl: family id %d is already registered (resolving %q)", id, name)
	}
	s.mu.Lock()
	s.familyID = id
	s.resolved = true
	s.mu.Unlock()
	r.byID[id] = s
	delete(r.pending, name)
	return nil
}

// Decode dispatches an already-split (type, flags, payload) frame to the
// decoder registered for netlinkType.
func (r *Registry) Decode(netlinkType, flags uint16, payload []byte) (Message, error) {
	r.mu.Lock()
	d, ok := r.byID[netlinkType]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("genl: unregistered netlink type: %d", netlinkType)
	}
	return d.decodeFrame(flags, payload)
}

// EncodeFrame packs m and prepends the 16-byte netlink header, ready to
// write to a datagram socket.
func EncodeFrame(m *Msg, portID, seq uint32) ([]byte, error) {
	familyID, err := m.Schema.FamilyID()
	if err != nil {
		return nil, err
	}
	body, err := m.pack()
	if err != nil {
		return nil, fmt.Errorf("genl: packing %s.%s: %w", m.Schema.name, m.CommandName(), err)
	}
	hdr := make([]byte, 16)
	binary.NativeEndian.PutUint32(hdr[0:4], uint32(len(body)+16))
	binary.NativeEndian.PutUint16(hdr[4:6], familyID)
	binary.NativeEndian.PutUint16(hdr[6:8], m.flags)
	binary.NativeEndian.PutUint32(hdr[8:12], seq)
	binary.NativeEndian.PutUint32(hdr[12:16], portID)
	return append(hdr, body...), nil
}

// PeekHeader parses the 16-byte netlink header at the front of data without
// touching the registry, returning the frame's total length (including the
// header), its type, flags, sequence number, and originating port id. nlsock
// uses this to validate a reply's sequence number and port id before
// bothering to decode its body.
func PeekHeader(data []byte) (length uint32, typ, flags uint16, seq, portID uint32, err error) {
	if len(data) < 16 {
		return 0, 0, 0, 0, 0, fmt.Errorf("genl: frame shorter than the 16-byte netlink header (%d bytes)", len(data))
	}
	length = binary.NativeEndian.Uint32(data[0:4])
	typ = binary.NativeEndian.Uint16(data[4:6])
	flags = binary.NativeEndian.Uint16(data[6:8])
	seq = binary.NativeEndian.Uint32(data[8:12])
	portID = binary.NativeEndian.Uint32(data[12:16])
	if length < 16 || int(length) > len(data) {
		return 0, 0, 0, 0, 0, fmt.Errorf("genl: invalid frame length %d (have %d bytes)", length, len(data))
	}
	return length, typ, flags, seq, portID, nil
}

// DecodeFrame parses one generic-netlink frame (16-byte netlink header plus
// family-specific payload) off the front of data, dispatches it through r,
// and returns the decoded message together with whatever of data followed
// it (so callers can loop over multiple frames packed into one datagram).
func DecodeFrame(r *Registry, data []byte) (msg Message, rest []byte, err error) {
	length, typ, flags, _, _, err := PeekHeader(data)
	if err != nil {
		return nil, nil, err
	}
	msg, err = r.Decode(typ, flags, data[16:length])
	if err != nil {
		return nil, data[length:], err
	}
	return msg, data[length:], nil
}
