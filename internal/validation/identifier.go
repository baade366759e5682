package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Константы валидации
const (
	MinPhoneDigits       = 6
	MaxPhoneDigits       = 15
	MaxCountryCodeDigits = 3
)

var (
	localPartRegex   = regexp.MustCompile(`^[a-z0-9._+-]+$`)
	domainPartRegex  = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	phoneDigitsRegex = regexp.MustCompile(`^[0-9]+$`)
	codeDigitsRegex  = regexp.MustCompile(`^[0-9]+$`)
)

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	email = strings.TrimSpace(email)
	email = strings.ToLower(email)

	// Базовая проверка формата
	if !strings.Contains(email, "@") {
		return fmt.Errorf("email должен содержать символ @")
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return fmt.Errorf("некорректный формат email")
	}

	localPart := parts[0]
	domainPart := parts[1]

	if len(localPart) == 0 || len(localPart) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}

	if len(domainPart) == 0 || len(domainPart) > 255 {
		return fmt.Errorf("доменная часть email должна быть от 1 до 255 символов")
	}

	if !strings.Contains(domainPart, ".") {
		return fmt.Errorf("доменная часть email должна содержать точку")
	}

	if !localPartRegex.MatchString(localPart) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}

	if !domainPartRegex.MatchString(domainPart) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}

	return nil
}

// ValidatePhone проверяет номер телефона и код страны для SMS канала.
// Номер — только цифры, без кода страны; код страны — 1-3 цифры.
func ValidatePhone(phone, countryCode string) error {
	phone = strings.TrimSpace(phone)
	countryCode = strings.TrimSpace(strings.TrimPrefix(countryCode, "+"))

	if phone == "" {
		return fmt.Errorf("номер телефона обязателен")
	}
	if countryCode == "" {
		return fmt.Errorf("код страны обязателен для SMS")
	}

	if !phoneDigitsRegex.MatchString(phone) {
		return fmt.Errorf("номер телефона должен содержать только цифры")
	}
	if len(phone) < MinPhoneDigits || len(phone) > MaxPhoneDigits {
		return fmt.Errorf("номер телефона должен быть от %d до %d цифр", MinPhoneDigits, MaxPhoneDigits)
	}

	if !phoneDigitsRegex.MatchString(countryCode) || len(countryCode) > MaxCountryCodeDigits {
		return fmt.Errorf("код страны должен быть от 1 до %d цифр", MaxCountryCodeDigits)
	}

	return nil
}

// ValidateCode проверяет формат одноразового кода до обращения к хранилищу.
func ValidateCode(code string, length int) error {
	if code == "" {
		return fmt.Errorf("код обязателен")
	}
	if len(code) != length {
		return fmt.Errorf("код должен состоять из %d цифр", length)
	}
	if !codeDigitsRegex.MatchString(code) {
		return fmt.Errorf("код должен содержать только цифры")
	}
	return nil
}
