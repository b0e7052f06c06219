package v1

import (
    "net/http"

    "github.com/tinoosan/circulation/internal/dictionary"
)

// GET /v1/dictionary/genres
func (s *Server) getGenresDictionary(w http.ResponseWriter, r *http.Request) {
    out := struct {
        Items []dictionary.GenreDef `json:"items"`
    }{Items: dictionary.Genres()}
    toJSON(w, http.StatusOK, out)
}
