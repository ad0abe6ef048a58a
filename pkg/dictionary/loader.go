// Package dictionary loads the code -> term vocabulary and builds the inverted,
// normalized term index the matcher scores against.
//
// A Dictionary is immutable once constructed: Load and New copy their input,
// build the TermIndex, and expose read-only accessors only.
package dictionary

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Code is an opaque controlled-vocabulary identifier.
type Code string

// Dictionary maps codes to canonical terms and owns the derived TermIndex.
type Dictionary struct {
	terms map[Code]string
	codes []Code
	index *TermIndex
}

// Stats describes a loaded dictionary.
type Stats struct {
	Codes      int
	Terms      int
	MaxTokens  int
	SharedTerm int // normalized terms shared by more than one code
}

var (
	errEmptyCode   = errors.New("empty code")
	errNotAnObject = errors.New("not a flat string to string object")
)

// Load reads a dictionary file. The format follows the file extension,
// see DetectFileFormat. Every failure is returned as *LoadError.
func Load(path string) (*Dictionary, error) {
	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer file.Close()

	format := DetectFileFormat(path)
	log.Debugf("Loading dictionary %s (%s)", path, format)

	var entries map[Code]string
	switch format {
	case FormatMsgpack:
		entries, err = decodeMsgpack(bufio.NewReader(file))
	default:
		entries, err = decodeJSON(bufio.NewReader(file))
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	dict := build(entries)
	log.Debugf("Dictionary loaded: %d codes, %d terms in %s", len(dict.codes), dict.index.Len(), time.Since(start))
	return dict, nil
}

// New builds a dictionary from an in-memory code -> term map.
func New(entries map[string]string) (*Dictionary, error) {
	copied := make(map[Code]string, len(entries))
	for code, term := range entries {
		if code == "" {
			return nil, &LoadError{Err: errEmptyCode}
		}
		copied[Code(code)] = term
	}
	return build(copied), nil
}

func build(entries map[Code]string) *Dictionary {
	codes := make([]Code, 0, len(entries))
	for code := range entries {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	return &Dictionary{
		terms: entries,
		codes: codes,
		index: buildIndex(codes, entries),
	}
}

// decodeJSON streams the object token by token so duplicate codes are caught
// instead of silently keeping the last one.
func decodeJSON(r io.Reader) (map[Code]string, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotAnObject
	}

	entries := make(map[Code]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		term, ok := valTok.(string)
		if !ok {
			return nil, fmt.Errorf("code %q: %w", key, errNotAnObject)
		}

		if err := addEntry(entries, key, term); err != nil {
			return nil, err
		}
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("invalid JSON: trailing data after object")
	}
	return entries, nil
}

func decodeMsgpack(r io.Reader) (map[Code]string, error) {
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("invalid msgpack: %w", err)
	}
	if n < 0 {
		return nil, errNotAnObject
	}

	entries := make(map[Code]string, n)
	for i := 0; i < n; i++ {
		rawKey, err := dec.DecodeInterface()
		if err != nil {
			return nil, fmt.Errorf("invalid msgpack: %w", err)
		}
		key, ok := rawKey.(string)
		if !ok {
			return nil, fmt.Errorf("key %v: %w", rawKey, errNotAnObject)
		}

		rawVal, err := dec.DecodeInterface()
		if err != nil {
			return nil, fmt.Errorf("invalid msgpack: %w", err)
		}
		term, ok := rawVal.(string)
		if !ok {
			return nil, fmt.Errorf("code %q: %w", key, errNotAnObject)
		}

		if err := addEntry(entries, key, term); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func addEntry(entries map[Code]string, key, term string) error {
	if key == "" {
		return errEmptyCode
	}
	code := Code(key)
	if _, dup := entries[code]; dup {
		return &DuplicateCodeError{Code: code}
	}
	entries[code] = term
	return nil
}

// Len returns the number of codes.
func (d *Dictionary) Len() int {
	return len(d.codes)
}

// Term returns the canonical term of a code.
func (d *Dictionary) Term(code Code) (string, bool) {
	term, ok := d.terms[code]
	return term, ok
}

// Codes returns every code in sorted order.
func (d *Dictionary) Codes() []Code {
	return slices.Clone(d.codes)
}

// Index returns the shared read-only term index.
func (d *Dictionary) Index() *TermIndex {
	return d.index
}

// Stats returns counters about the dictionary and its index.
func (d *Dictionary) Stats() Stats {
	shared := 0
	for _, bucket := range d.index.buckets {
		for _, entry := range bucket {
			if len(entry.Codes) > 1 {
				shared++
			}
		}
	}
	return Stats{
		Codes:      len(d.codes),
		Terms:      d.index.Len(),
		MaxTokens:  d.index.MaxTokens(),
		SharedTerm: shared,
	}
}
