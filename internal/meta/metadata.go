package meta

import (
    "bytes"
    "encoding/json"
    "errors"
    "fmt"
    "sort"

    "github.com/tinoosan/circulation/internal/slug"
)

// Metadata holds free-form catalog attributes of a book (publisher, language,
// edition, ...). Keys are slugs; values are short strings.
type Metadata map[string]string

const (
    MaxPairs     = 16
    MaxValLen    = 200
    MaxTotalJSON = 2048
)

var (
    ErrTooManyPairs = errors.New("metadata: too many attributes")
    ErrBadKey       = errors.New("metadata: attribute key must be a slug")
    ErrValueTooLong = errors.New("metadata: attribute value too long")
    ErrTooLarge     = errors.New("metadata: encoded size exceeds limit")
)

// New copies m into a Metadata value. A nil map yields an empty Metadata.
func New(m map[string]string) Metadata {
    out := make(Metadata, len(m))
    for k, v := range m { out[k] = v }
    return out
}

func (m Metadata) Clone() Metadata { return New(m) }

// Merge overlays other onto m. An empty value deletes the key.
func (m Metadata) Merge(other Metadata) {
    for _, k := range other.keys() {
        if v := other[k]; v == "" {
            delete(m, k)
        } else {
            m[k] = v
        }
    }
}

// Validate checks key format and size limits.
func (m Metadata) Validate() error {
    if len(m) > MaxPairs { return ErrTooManyPairs }
    for _, k := range m.keys() {
        if !slug.IsSlug(k) { return fmt.Errorf("%w: %q", ErrBadKey, k) }
        if len(m[k]) > MaxValLen { return fmt.Errorf("%w: %q", ErrValueTooLong, k) }
    }
    b, err := m.MarshalStableJSON()
    if err != nil { return err }
    if len(b) > MaxTotalJSON { return ErrTooLarge }
    return nil
}

// MarshalStableJSON encodes m with keys in sorted order so stored values compare byte-for-byte.
func (m Metadata) MarshalStableJSON() ([]byte, error) {
    var buf bytes.Buffer
    buf.WriteByte('{')
    for i, k := range m.keys() {
        if i > 0 { buf.WriteByte(',') }
        kb, err := json.Marshal(k)
        if err != nil { return nil, err }
        vb, err := json.Marshal(m[k])
        if err != nil { return nil, err }
        buf.Write(kb)
        buf.WriteByte(':')
        buf.Write(vb)
    }
    buf.WriteByte('}')
    return buf.Bytes(), nil
}

func (m Metadata) MarshalJSON() ([]byte, error) { return m.MarshalStableJSON() }

func (m *Metadata) UnmarshalJSON(b []byte) error {
    if len(b) == 0 || bytes.Equal(b, []byte("null")) { *m = Metadata{}; return nil }
    var raw map[string]string
    if err := json.Unmarshal(b, &raw); err != nil { return err }
    *m = New(raw)
    return nil
}

func (m Metadata) keys() []string {
    keys := make([]string, 0, len(m))
    for k := range m { keys = append(keys, k) }
    sort.Strings(keys)
    return keys
}
