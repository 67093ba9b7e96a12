// Package id generates the short random names used for temporary files and trash folders.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// tempAlphabet is safe on case-insensitive file systems.
const tempAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// TempName returns a dot-prefixed lowercase name for staging a directory or
// file before its final rename. Two names differing only in case never
// collide, so it is safe as the middle step of a case-only rename.
func TempName() (string, error) {
	s, err := gonanoid.Generate(tempAlphabet, 12)
	if err != nil {
		return "", fmt.Errorf("generate temp name: %w", err)
	}
	return ".tmp-" + s, nil
}

// TrashName names the folder a removed book is moved to.
func TrashName(bookID int64) (string, error) {
	s, err := gonanoid.Generate(tempAlphabet, 8)
	if err != nil {
		return "", fmt.Errorf("generate trash name: %w", err)
	}
	return fmt.Sprintf("%d-%s", bookID, s), nil
}
