package codec

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec encodes/decodes a message body for a registered name.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Registry is a name -> Codec lookup table, the "simple table" spec.md
// assigns to the codec registry collaborator.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a Registry with the default JSON codec registered.
func NewRegistry() *Registry {
	r := &Registry{codecs: map[string]Codec{}}
	r.Register("json", JSON{})
	return r
}

// Register adds or replaces the codec for id. Registering PingID is a
// programmer error: it is reserved and never looked up by name.
func (r *Registry) Register(id string, c Codec) {
	if id == PingID {
		panic("codec: " + PingID + " is reserved for keepalive records")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[id] = c
}

// Lookup returns the codec registered under id, if any.
func (r *Registry) Lookup(id string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id]
	return c, ok
}

// JSON is the default body codec: a thin encoding/json passthrough.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return b, nil
}

func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}
