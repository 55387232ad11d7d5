package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// ErrEmptyEnvKey indicates an assignment with no variable name.
var ErrEmptyEnvKey = errors.New("env file assignment without a key")

// LoadEnvFile reads KEY=VALUE assignments from path. A missing file yields an
// empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	vars, err := ParseEnv(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

// ParseEnv parses .env syntax with godotenv: comments, "export " prefixes and
// single or double quoted values.
func ParseEnv(r io.Reader) (map[string]string, error) {
	vars, err := godotenv.Parse(r)
	if err != nil {
		return nil, err
	}
	if _, ok := vars[""]; ok {
		return nil, ErrEmptyEnvKey
	}
	return vars, nil
}
