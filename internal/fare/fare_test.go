package fare

import (
	"testing"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

func TestDeliveryFee(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     model.Money
	}{
		{name: "zero", distance: 0, want: 2000},
		{name: "two km", distance: 2, want: 2000},
		{name: "three km", distance: 3, want: 3000},
		{name: "ten km", distance: 10, want: 5000},
		{name: "ten and a half", distance: 10.5, want: 5800},
		{name: "twelve km", distance: 12, want: 6600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeliveryFee(tt.distance); got != tt.want {
				t.Fatalf("DeliveryFee(%v) = %d, want %d", tt.distance, got, tt.want)
			}
		})
	}
}

func TestDeliveryFeeMonotonic(t *testing.T) {
	prev := DeliveryFee(0)
	for d := 0.0; d <= 40; d += 0.25 {
		cur := DeliveryFee(d)
		if cur < prev {
			t.Fatalf("DeliveryFee(%v) = %d is lower than previous %d", d, cur, prev)
		}
		prev = cur
	}
}

func TestFarePerPersonRoundsUp(t *testing.T) {
	tests := []struct {
		name  string
		total model.Money
		seats int
		want  model.Money
	}{
		{name: "even split", total: 30000, seats: 3, want: 10000},
		{name: "remainder rounds up", total: 10000, seats: 3, want: 3334},
		{name: "single seat", total: 999, seats: 1, want: 999},
		{name: "no seats", total: 500, seats: 0, want: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FarePerPerson(tt.total, tt.seats)
			if got != tt.want {
				t.Fatalf("FarePerPerson(%d, %d) = %d, want %d", tt.total, tt.seats, got, tt.want)
			}
			if tt.seats > 0 && got*model.Money(tt.seats) < tt.total {
				t.Fatalf("split %d x %d under-collects %d", got, tt.seats, tt.total)
			}
		})
	}
}

func TestRideFare(t *testing.T) {
	if got := RideFare(0); got != 5000 {
		t.Fatalf("RideFare(0) = %d, want 5000", got)
	}
	if got := RideFare(2.5); got != 8750 {
		t.Fatalf("RideFare(2.5) = %d, want 8750", got)
	}
	if got := RideFare(-3); got != 5000 {
		t.Fatalf("RideFare(-3) = %d, want 5000", got)
	}
}

func TestPerPersonDeliveryFee(t *testing.T) {
	if got := PerPersonDeliveryFee(3000, 4); got != 750 {
		t.Fatalf("PerPersonDeliveryFee(3000, 4) = %d, want 750", got)
	}
	if got := PerPersonDeliveryFee(3000, 7); got != 429 {
		t.Fatalf("PerPersonDeliveryFee(3000, 7) = %d, want 429", got)
	}
}
