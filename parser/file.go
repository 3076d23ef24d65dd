package parser

import (
	"os"
	"path/filepath"
)

// ParseString tokenizes and parses basm source text. filename is used in
// diagnostics only.
func ParseString(source, filename string) (*Program, error) {
	tokens, err := NewLexer(source, filename).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens, filename).Parse()
}

// ParseFile reads and parses a basm source file.
func ParseFile(path string) (*Program, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-specified source path
	if err != nil {
		return nil, NewError(Position{Filename: path}, ErrorFileIO, "cannot read file: %v", err)
	}
	return ParseString(string(data), filepath.Clean(path))
}
