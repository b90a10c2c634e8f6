package model

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/ezoic/hydrocast/pkg/errors"
)

// SaveModel writes v to path as an xz compressed gob stream.
// Parent directories are created when missing.
//
// Parameters:
//   - v: any gob encodable value, typically a struct of exported weights
//   - path: destination file, conventionally ending in .gob.xz
//
// Example:
//
//	if err := model.SaveModel(weights, filepath.Join(dir, "model_weights.gob.xz")); err != nil {
//	    return err
//	}
func SaveModel(v interface{}, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create file %s", path)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", path)
	}

	if err := SaveModelToWriter(v, f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "failed to close file")
}

// LoadModel reads a value written by SaveModel into v (a pointer).
func LoadModel(v interface{}, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadModelFromReader(v, f)
}

// SaveModelToWriter encodes v into w.
func SaveModelToWriter(v interface{}, w io.Writer) error {
	bw := bufio.NewWriter(w)
	zw, err := xz.NewWriter(bw)
	if err != nil {
		return errors.Wrap(err, "failed to create xz writer")
	}

	if err := gob.NewEncoder(zw).Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "failed to finish xz stream")
	}
	return errors.Wrap(bw.Flush(), "failed to flush model")
}

// LoadModelFromReader decodes a value written by SaveModelToWriter into v.
func LoadModelFromReader(v interface{}, r io.Reader) error {
	zr, err := xz.NewReader(bufio.NewReader(r))
	if err != nil {
		return errors.Wrap(err, "failed to open xz stream")
	}

	if err := gob.NewDecoder(zr).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
