package session

import "strings"

// toText decodes console bytes, dropping invalid UTF-8 sequences.
func toText(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}
