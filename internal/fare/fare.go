// Package fare содержит расчёт стоимости доставки и разделения платы за поездку.
package fare

import (
	"math"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Тарифная сетка доставки в пайсах.
const (
	deliveryNear  model.Money = 2000 // до 2 км
	deliveryMid   model.Money = 3000 // до 5 км
	deliveryFar   model.Money = 5000 // до 10 км
	deliveryPerKm model.Money = 800  // за каждый км свыше 10
	rideBase      model.Money = 5000
	ridePerKm     model.Money = 1500
)

const deliveryFarEnd = 10.0

// DeliveryFee возвращает стоимость доставки для расстояния в километрах.
// Функция монотонно не убывает.
func DeliveryFee(distanceKm float64) model.Money {
	switch {
	case distanceKm <= 2:
		return deliveryNear
	case distanceKm <= 5:
		return deliveryMid
	case distanceKm <= deliveryFarEnd:
		return deliveryFar
	}
	extra := math.Ceil(distanceKm - deliveryFarEnd)
	return deliveryFar + model.Money(extra)*deliveryPerKm
}

// RideFare возвращает полную стоимость поездки, если создатель её не указал.
func RideFare(distanceKm float64) model.Money {
	if distanceKm < 0 {
		distanceKm = 0
	}
	return rideBase + model.Money(math.Ceil(distanceKm*float64(ridePerKm)))
}

// FarePerPerson делит полную стоимость на число мест с округлением вверх,
// чтобы сумма долей никогда не оказалась меньше полной стоимости.
func FarePerPerson(total model.Money, seats int) model.Money {
	return ceilDiv(total, seats)
}

// PerPersonDeliveryFee делит стоимость доставки на текущее число участников.
func PerPersonDeliveryFee(fee model.Money, members int) model.Money {
	return ceilDiv(fee, members)
}

func ceilDiv(total model.Money, n int) model.Money {
	if n <= 0 {
		return total
	}
	d := model.Money(n)
	q := total / d
	if total%d != 0 {
		q++
	}
	return q
}
