package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Write encodes the recording as indented JSON.
func (r *Recording) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	return nil
}

// Read decodes and validates a recording document.
func Read(r io.Reader) (*Recording, error) {
	var rec Recording
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecording, err)
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save writes the recording to a file, replacing any previous content.
func (r *Recording) Save(path string) error {
	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	return nil
}

// Load reads a recording from a file.
func Load(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load recording: %w", err)
	}
	return Read(bytes.NewReader(data))
}
