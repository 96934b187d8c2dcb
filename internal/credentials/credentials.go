// File: internal/credentials/credentials.go
//
// Package credentials loads the optional auto-fill login pair. Absent
// credentials mean the run is manual-login only. Values are never logged.
package credentials

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Default lookup locations, relative to the working directory.
const (
	DefaultFile = "config/credentials.json"
	legacyFile  = "credentials.json"
)

// Environment variable overrides.
const (
	envUsername = "GCBOT_USERNAME"
	envPassword = "GCBOT_PASSWORD"
)

// Credentials is an optional username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Complete reports whether both fields are present.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// resolvePath picks the credentials file: an explicit path wins, otherwise
// the default location, then the legacy location. Empty means no file.
func resolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range []string{DefaultFile, legacyFile} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads credentials from the environment, overlaid by the JSON file
// when one exists. A missing file is not an error; a present but unreadable
// file is.
func Load(file string) (Credentials, error) {
	creds := Credentials{
		Username: os.Getenv(envUsername),
		Password: os.Getenv(envPassword),
	}

	path := resolvePath(file)
	if path == "" {
		return creds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var fromFile Credentials
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if fromFile.Username != "" {
		creds.Username = fromFile.Username
	}
	if fromFile.Password != "" {
		creds.Password = fromFile.Password
	}
	return creds, nil
}
