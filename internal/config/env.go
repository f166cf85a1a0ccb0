package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded from the working directory when present.
const DefaultEnvFile = ".env"

// LoadEnvFiles loads KEY=VALUE files into the process environment. Variables
// already set are not overridden. Missing files are skipped; the returned
// slice lists the files actually loaded. Files listed in a .checksums
// manifest beside them must match.
func LoadEnvFiles(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{DefaultEnvFile}
	}

	var loaded []string
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := verifyEnvFileHash(p); err != nil {
			return loaded, err
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
