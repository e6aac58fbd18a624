// Package geo содержит геометрические функции и клиент внешнего сервиса геопоиска.
package geo

import (
	"math"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

const earthRadiusKm = 6371.0

// Haversine возвращает расстояние между точками по дуге большого круга в километрах.
func Haversine(a, b model.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box задаёт прямоугольную область в координатах.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox возвращает прямоугольник, содержащий круг радиуса radiusKm.
// Используется как грубый фильтр перед точной проверкой Haversine.
func BoundingBox(center model.Point, radiusKm float64) Box {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	cos := math.Cos(center.Lat * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-9 {
		dLng = math.Min(180, dLat/cos)
	}
	return Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: center.Lng - dLng,
		MaxLng: center.Lng + dLng,
	}
}

// Contains сообщает, попадает ли точка в прямоугольник.
func (b Box) Contains(p model.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}
