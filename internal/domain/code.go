package domain

import (
	"crypto/rand"
	"strings"
)

// Алфавит кодов комнат: без 0/O/1/I, чтобы код можно было диктовать вслух.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRoomCode генерирует 6-символьный код. Уникальность обеспечивает
// хранилище (unique index), вызывающий повторяет при коллизии.
func NewRoomCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(CodeLength)
	for _, c := range b {
		sb.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return sb.String(), nil
}

// NormalizeRoomCode — коды регистронезависимы.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
