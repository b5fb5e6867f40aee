package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigWriteError reports a failure to persist a generated artifact.
type ConfigWriteError struct {
	Path string
	Err  error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *ConfigWriteError) Unwrap() error { return e.Err }

// WriteYAML writes doc as YAML and returns the bytes written.
func WriteYAML(path string, doc Document) ([]byte, error) {
	payload, err := yaml.Marshal(doc)
	if err != nil {
		return nil, &ConfigWriteError{Path: path, Err: err}
	}
	if err := WriteFile(path, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(path string, doc Document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &ConfigWriteError{Path: path, Err: err}
	}
	return WriteFile(path, payload)
}

// WriteBase64 writes payload base64 encoded, the format subscription clients import.
func WriteBase64(path string, payload []byte) error {
	return WriteFile(path, []byte(base64.StdEncoding.EncodeToString(payload)))
}

// WriteFile replaces path atomically, creating parent directories.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ConfigWriteError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &ConfigWriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &ConfigWriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ConfigWriteError{Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return &ConfigWriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &ConfigWriteError{Path: path, Err: err}
	}
	return nil
}
