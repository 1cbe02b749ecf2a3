// Package jobid derives the deterministic job identity from a repository
// URL. The encoding is reversible so every surface that holds a job ID can
// recover the reference without a lookup.
package jobid

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidID = errors.New("invalid job id")

// FromRepoURL returns the job identity for a repository reference.
// Identical references always map to the same identity.
func FromRepoURL(repoURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(Normalize(repoURL)))
}

// RepoURL decodes a job identity back into its repository reference.
func RepoURL(id string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", ErrInvalidID
	}
	if len(data) == 0 {
		return "", ErrInvalidID
	}
	return string(data), nil
}

// Normalize strips the noise that makes equal references look distinct:
// surrounding whitespace, a trailing slash and a trailing ".git".
func Normalize(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return s
}
