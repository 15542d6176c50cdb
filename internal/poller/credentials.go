package poller

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Credentials is the API key and URL used by the heartbeat command's backend.
type Credentials struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
}

// CredentialSource reads Credentials from the environment, falling back to a
// JSON file.
type CredentialSource struct {
	KeyEnv string
	URLEnv string
	File   string
	Getenv func(string) string
}

// Load returns the credentials and whether any were found. A missing file is
// not an error; an unreadable or malformed one is.
func (s CredentialSource) Load() (Credentials, bool, error) {
	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var c Credentials
	if s.KeyEnv != "" {
		c.APIKey = strings.TrimSpace(getenv(s.KeyEnv))
	}
	if s.URLEnv != "" {
		c.APIURL = strings.TrimSpace(getenv(s.URLEnv))
	}
	if c.APIKey != "" {
		return c, true, nil
	}

	if s.File == "" {
		return Credentials{}, false, nil
	}
	data, err := os.ReadFile(s.File)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, false, nil
		}
		return Credentials{}, false, fmt.Errorf("read credentials: %w", err)
	}
	var fc Credentials
	if err := json.Unmarshal(data, &fc); err != nil {
		return Credentials{}, false, fmt.Errorf("parse credentials %s: %w", s.File, err)
	}
	if fc.APIKey == "" {
		return Credentials{}, false, nil
	}
	if c.APIURL != "" {
		fc.APIURL = c.APIURL
	}
	return fc, true, nil
}
