// Package model persists layer stacks.
package model

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-lattice/internal/layer"
	"github.com/23skdu/longbow-lattice/internal/network"
)

// FormatVersion is written into every model file.
const FormatVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported model format version")

// File is the CBOR document of a saved stack.
type File struct {
	Version int     `cbor:"version"`
	Layers  []Entry `cbor:"layers"`
}

// Entry is one layer: hyperparameters plus trainable values, if any.
type Entry struct {
	Config layer.Config `cbor:"config"`
	Blob   *layer.Blob  `cbor:"blob,omitempty"`
}

// Encode writes s as a CBOR model file.
func Encode(w io.Writer, s *network.Stack) error {
	f := File{Version: FormatVersion}
	for _, l := range s.Layers() {
		cfg, blob := layer.Describe(l)
		f.Layers = append(f.Layers, Entry{Config: cfg, Blob: blob})
	}
	return cbor.NewEncoder(w).Encode(f)
}

// Decode reads a CBOR model file and rebuilds its stack.
func Decode(r io.Reader) (*network.Stack, error) {
	var f File
	if err := cbor.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}

	layers := make([]layer.Layer, 0, len(f.Layers))
	for i, e := range f.Layers {
		l, err := layer.New(e.Config, e.Blob)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	return network.NewStack(layers...), nil
}

// Save writes s to path.
func Save(path string, s *network.Stack) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load reads a stack from path.
func Load(path string) (*network.Stack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
