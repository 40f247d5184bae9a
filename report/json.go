package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteJSON saves d under dir, creating it if needed, and returns the path
func WriteJSON(dir string, d *Dict) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create result directory %s", dir)
	}
	path := filepath.Join(dir, FileName(d.DUTUID, d.TestName, d.Started())+".json")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(d); err != nil {
		return "", errors.Wrapf(err, "encode %s", path)
	}
	return path, f.Close()
}

// ReadJSON loads a result file
func ReadJSON(path string) (*Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d := &Dict{}
	if err := json.NewDecoder(f).Decode(d); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return d, nil
}
