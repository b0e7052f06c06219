package dictionary

import "sort"

type GenreDef struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

var curated = []GenreDef{
	{Code: "general", Label: "General"},
	{Code: "fiction", Label: "Fiction"},
	{Code: "science_fiction", Label: "Science Fiction"},
	{Code: "fantasy", Label: "Fantasy"},
	{Code: "mystery", Label: "Mystery"},
	{Code: "romance", Label: "Romance"},
	{Code: "poetry", Label: "Poetry"},
	{Code: "biography", Label: "Biography"},
	{Code: "history", Label: "History"},
	{Code: "science", Label: "Science"},
	{Code: "technology", Label: "Technology"},
	{Code: "philosophy", Label: "Philosophy"},
	{Code: "children", Label: "Children"},
	{Code: "reference", Label: "Reference"},
}

var byCode = func() map[string]GenreDef {
	m := make(map[string]GenreDef, len(curated))
	for _, g := range curated {
		m[g.Code] = g
	}
	return m
}()

// IsKnown reports whether code is a curated genre.
func IsKnown(code string) bool {
	_, ok := byCode[code]
	return ok
}

// Genres returns the curated genres sorted by code.
func Genres() []GenreDef {
	out := make([]GenreDef, len(curated))
	copy(out, curated)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
