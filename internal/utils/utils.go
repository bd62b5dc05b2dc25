package utils

import (
	"math/rand/v2"
	"strings"

	"github.com/yonatanbiwix/simon-game-app/internal"
)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

const RoomCodeLength = 6

// Ambiguous glyphs (0/O, 1/I) are left out so codes can be read aloud.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRoomCode returns a random code of n characters.
func GenerateRoomCode(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))])
	}
	return sb.String()
}

// ValidRoomCode reports whether code has the shape GenerateRoomCode produces.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := range len(code) {
		if !strings.ContainsRune(roomCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// NormalizeRoomCode upper-cases and trims user input.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RandomColor picks a color uniformly from the palette.
func RandomColor() internal.Color {
	return internal.Colors[rand.IntN(len(internal.Colors))]
}

// RandomSequence returns n random colors.
func RandomSequence(n int, next func() internal.Color) []internal.Color {
	if next == nil {
		next = RandomColor
	}
	seq := make([]internal.Color, 0, n)
	for range n {
		seq = append(seq, next())
	}
	return seq
}
