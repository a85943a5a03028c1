// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the entities that carry generated IDs.
const (
	PrefixConnection = "conn-"
	PrefixEvent      = "evt-"
	PrefixCommand    = "cmd-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// ConnectionID returns a new connection ID.
func ConnectionID() (string, error) { return GenerateWithPrefix(PrefixConnection) }

// EventID returns a new event ID.
func EventID() (string, error) { return GenerateWithPrefix(PrefixEvent) }

// CommandID returns a new command ID.
func CommandID() (string, error) { return GenerateWithPrefix(PrefixCommand) }
