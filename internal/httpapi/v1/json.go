package v1

import (
    "encoding/json"
    "fmt"
    "net/http"

    chi "github.com/go-chi/chi/v5"
    "github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// toJSON writes a JSON response with status code.
func toJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a single JSON object from the body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
    dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
    dec.DisallowUnknownFields()
    if err := dec.Decode(dst); err != nil { return fmt.Errorf("invalid JSON: %w", err) }
    return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (uuid.UUID, bool) {
    id, err := uuid.Parse(chi.URLParam(r, "id"))
    if err != nil || id == uuid.Nil { return uuid.Nil, false }
    return id, true
}
