// Package util holds small helpers shared by the loop and transport layers.
package util

// TruncateRunes caps s at maxRunes code points, marking any cut with "...".
// Counting runes keeps multi-byte text from being split mid-character.
// A non-positive maxRunes disables the cap.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
