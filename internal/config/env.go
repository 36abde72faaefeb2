package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set win over the file.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// expandEnv replaces ${NAME} references. Bare $NAME is left alone so secrets
// containing '$' survive.
func expandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
