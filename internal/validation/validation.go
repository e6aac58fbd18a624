// Package validation содержит функции валидации входных данных.
package validation

import (
	"math"
	"net/mail"
	"strings"
	"unicode"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// MinPasswordLength задаёт минимальную длину пароля.
const MinPasswordLength = 8

// MaxTitleLength задаёт максимальную длину названия кластера.
const MaxTitleLength = 120

// IsValidCode проверяет, что код получения состоит ровно из length цифр.
func IsValidCode(code string, length int) bool {
	if code == "" || len(code) != length {
		return false
	}
	for _, ch := range code {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidEmail проверяет адрес электронной почты.
func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email, "@")
}

// IsValidPassword проверяет минимальные требования к паролю.
func IsValidPassword(password string) bool {
	return len(password) >= MinPasswordLength
}

// IsValidGender допускает пустое значение и значения из фиксированного списка.
func IsValidGender(gender string) bool {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "", "female", "male", "other":
		return true
	}
	return false
}

// IsValidPoint проверяет диапазон координат.
func IsValidPoint(p model.Point) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		math.Abs(p.Lat) <= 90 && math.Abs(p.Lng) <= 180
}

// IsValidAmount проверяет сумму в рупиях: положительная, конечная,
// не более двух знаков после запятой.
func IsValidAmount(rupees float64) bool {
	if math.IsNaN(rupees) || math.IsInf(rupees, 0) || rupees <= 0 {
		return false
	}
	paise := rupees * 100
	return math.Abs(paise-math.Round(paise)) < 1e-6
}

// IsValidTitle проверяет название кластера.
func IsValidTitle(title string) bool {
	title = strings.TrimSpace(title)
	return title != "" && len([]rune(title)) <= MaxTitleLength
}
