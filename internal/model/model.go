// Package model содержит доменные сущности сервиса совместных заказов и поездок.
package model

import (
	"math"
	"time"
)

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Email        string
	Name         string
	Gender       string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Actor описывает аутентифицированного участника запроса и атрибуты,
// необходимые для проверки допуска в поездки с ограничением.
type Actor struct {
	ID     int64
	Gender string
}

// Money хранит денежную сумму в минимальных единицах (пайсах).
type Money int64

// MoneyFromRupees переводит сумму в рупиях в минимальные единицы с округлением.
func MoneyFromRupees(v float64) Money {
	return Money(math.Round(v * 100))
}

// Rupees возвращает сумму в рупиях.
func (m Money) Rupees() float64 {
	return float64(m) / 100
}

// Point задаёт географическую точку.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
