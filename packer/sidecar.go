package packer

import (
	"fmt"
	"os"
	"strings"
)

var listEscaper = strings.NewReplacer(`"`, `\"`, `\`, `\\`)

// writeList stores the packed paths as a JSON array. Paths are written byte
// for byte with only quotes and backslashes escaped, so every entry matches
// its table path exactly.
func writeList(name string, paths []string) error {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range paths {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		listEscaper.WriteString(&sb, p)
		sb.WriteByte('"')
	}
	sb.WriteByte(']')
	if err := os.WriteFile(name, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrDestination, err)
	}
	return nil
}
