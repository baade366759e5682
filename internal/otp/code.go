package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// Generator выпускает одноразовые цифровые коды фиксированной длины
// и момент истечения их действия.
type Generator struct {
	length int
	ttl    time.Duration
}

// NewGenerator создаёт генератор с заданной длиной кода и TTL.
func NewGenerator(length int, ttl time.Duration) *Generator {
	return &Generator{length: length, ttl: ttl}
}

// Length возвращает длину генерируемого кода.
func (g *Generator) Length() int {
	return g.length
}

// Generate возвращает новый код и момент истечения его действия.
// Распределение равномерное по всему пространству: каждая цифра
// берётся rejection sampling'ом, чтобы не было перекоса по модулю.
func (g *Generator) Generate(now time.Time) (string, time.Time, error) {
	digits := make([]byte, g.length)
	buf := make([]byte, 1)

	for i := 0; i < g.length; {
		if _, err := rand.Read(buf); err != nil {
			return "", time.Time{}, fmt.Errorf("otp: не удалось получить случайные байты: %w", err)
		}
		// Отбрасываем значения >= 250, иначе остаток по модулю 10 неравномерен
		if buf[0] >= 250 {
			continue
		}
		digits[i] = '0' + buf[0]%10
		i++
	}

	return string(digits), now.Add(g.ttl), nil
}

// HashCode возвращает hex от SHA-256 кода. Секрет хранится только хэшем.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyCode сравнивает код с хэшем за константное время.
func VerifyCode(code, codeHash string) bool {
	computed := HashCode(code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(codeHash)) == 1
}
