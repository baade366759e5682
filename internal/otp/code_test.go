package otp

import (
	"testing"
	"time"
)

func TestGeneratorLengthAndDigits(t *testing.T) {
	gen := NewGenerator(6, 10*time.Minute)
	now := time.Now()

	for i := 0; i < 100; i++ {
		code, expiresAt, err := gen.Generate(now)
		if err != nil {
			t.Fatalf("generate returned error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("ожидали 6 цифр, получили %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("код содержит не-цифру: %q", code)
			}
		}
		if !expiresAt.Equal(now.Add(10 * time.Minute)) {
			t.Fatalf("expiresAt должен быть now+ttl, получили %v", expiresAt)
		}
	}
}

func TestGeneratorDistributionCoversAllDigits(t *testing.T) {
	gen := NewGenerator(6, time.Minute)
	seen := make(map[rune]bool)

	// 200 кодов по 6 цифр: вероятность не встретить какую-то цифру ничтожна
	for i := 0; i < 200; i++ {
		code, _, err := gen.Generate(time.Now())
		if err != nil {
			t.Fatalf("generate returned error: %v", err)
		}
		for _, r := range code {
			seen[r] = true
		}
	}

	for d := '0'; d <= '9'; d++ {
		if !seen[d] {
			t.Errorf("цифра %c ни разу не встретилась", d)
		}
	}
}

func TestHashAndVerifyCode(t *testing.T) {
	hash := HashCode("123456")
	if hash == "" || hash == "123456" {
		t.Fatalf("хэш не должен совпадать с кодом")
	}

	if !VerifyCode("123456", hash) {
		t.Fatal("верный код должен проходить проверку")
	}
	if VerifyCode("123457", hash) {
		t.Fatal("неверный код не должен проходить проверку")
	}
	if VerifyCode("", hash) {
		t.Fatal("пустой код не должен проходить проверку")
	}
}
