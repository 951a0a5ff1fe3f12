package store

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	json "github.com/goccy/go-json"
)

// ErrUnknownManifest is returned when a record names a type the codec does
// not know.
var ErrUnknownManifest = errors.New("store: unknown manifest")

// Codec turns payloads into bytes and back. The manifest identifies the
// payload type so Decode can restore the concrete Go value.
type Codec interface {
	Encode(v any) (manifest string, data []byte, err error)
	Decode(manifest string, data []byte) (any, error)
}

// JSONCodec encodes payloads as JSON. Registered types decode to their Go
// type; anything else decodes to json.RawMessage.
type JSONCodec struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{byName: map[string]reflect.Type{}, byType: map[reflect.Type]string{}}
}

// Register binds manifest to the type of sample. Pointer samples register the
// pointed-to type.
func (c *JSONCodec) Register(manifest string, sample any) error {
	if manifest == "" {
		return errors.New("store: manifest is empty")
	}
	t := reflect.TypeOf(sample)
	if t == nil {
		return errors.New("store: cannot register nil sample")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byName[manifest]; ok && prev != t {
		return fmt.Errorf("store: manifest %q already bound to %s", manifest, prev)
	}
	c.byName[manifest] = t
	c.byType[t] = manifest
	return nil
}

// MustRegister is Register for package initialization.
func (c *JSONCodec) MustRegister(manifest string, sample any) *JSONCodec {
	if err := c.Register(manifest, sample); err != nil {
		panic(err)
	}
	return c
}

func (c *JSONCodec) Encode(v any) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode payload: %w", err)
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	c.mu.RLock()
	manifest := c.byType[t]
	c.mu.RUnlock()
	return manifest, data, nil
}

func (c *JSONCodec) Decode(manifest string, data []byte) (any, error) {
	if manifest == "" {
		return json.RawMessage(append([]byte(nil), data...)), nil
	}
	c.mu.RLock()
	t, ok := c.byName[manifest]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownManifest, manifest)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %q payload: %w", manifest, err)
	}
	return ptr.Elem().Interface(), nil
}
