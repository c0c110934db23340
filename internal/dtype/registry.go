// Package dtype holds data type descriptors and the codec contract.
//
// A Registry is an explicit value built once at startup and handed to the
// scheduler, which freezes it. Nothing here is process-global.
package dtype

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

var (
	ErrTypeExists      = errors.New("dtype: data type already registered")
	ErrInvalidMetadata = errors.New("dtype: invalid data type metadata")
	ErrRegistryFrozen  = errors.New("dtype: registry is frozen")
)

// Kind separates the message and service id spaces.
type Kind uint8

const (
	KindMessage Kind = iota
	KindService
)

func (k Kind) String() string {
	if k == KindService {
		return "service"
	}
	return "message"
}

// Descriptor is the wire identity of one data type.
type Descriptor struct {
	ID       protocol.DataTypeID
	Kind     Kind
	FullName string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s:%d)", d.FullName, d.Kind, d.ID)
}

// Codec converts between a transfer payload and T. Decode fills out from r;
// Encode writes into dst and returns the number of bytes used.
type Codec[T any] interface {
	Decode(r *transfer.Reader, out *T) error
	Encode(msg *T, dst []byte) (int, error)
}

// Type binds a descriptor to the codec of its Go representation.
type Type[T any] struct {
	Descriptor
	Codec Codec[T]
}

type kindID struct {
	kind Kind
	id   protocol.DataTypeID
}

// Registry stores descriptors by id and by full name.
type Registry struct {
	mu     sync.RWMutex
	byID   map[kindID]Descriptor
	byName map[string]Descriptor
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[kindID]Descriptor),
		byName: make(map[string]Descriptor),
	}
}

// ValidateDescriptor checks id range, kind and dotted name format.
func ValidateDescriptor(d Descriptor) error {
	if !d.ID.IsValid() {
		return fmt.Errorf("%w: id %d out of range", ErrInvalidMetadata, d.ID)
	}
	if d.Kind != KindMessage && d.Kind != KindService {
		return fmt.Errorf("%w: kind %d", ErrInvalidMetadata, d.Kind)
	}
	if !isValidName(d.FullName) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidMetadata, d.FullName)
	}
	return nil
}

func (r *Registry) Register(d Descriptor) error {
	if err := ValidateDescriptor(d); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	key := kindID{kind: d.Kind, id: d.ID}
	if prev, ok := r.byID[key]; ok {
		return fmt.Errorf("%w: id taken by %s", ErrTypeExists, prev)
	}
	if prev, ok := r.byName[d.FullName]; ok {
		return fmt.Errorf("%w: name taken by %s", ErrTypeExists, prev)
	}
	r.byID[key] = d
	r.byName[d.FullName] = d
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) Lookup(kind Kind, id protocol.DataTypeID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[kindID{kind: kind, id: id}]
	return d, ok
}

func (r *Registry) LookupByName(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Contains reports whether exactly d is registered.
func (r *Registry) Contains(d Descriptor) bool {
	got, ok := r.LookupByName(d.FullName)
	return ok && got == d
}

// List returns descriptors ordered by kind then id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func isValidName(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			c := part[i]
			isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			isDigit := c >= '0' && c <= '9'
			if !(isAlpha || isDigit || c == '_') {
				return false
			}
			if i == 0 && isDigit {
				return false
			}
		}
	}
	return true
}
