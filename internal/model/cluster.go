package model

import "time"

// Kind определяет вид кластера.
type Kind string

const (
	KindBasket Kind = "basket"
	KindRide   Kind = "ride"
)

// Status описывает состояние жизненного цикла кластера.
type Status string

const (
	StatusOpen       Status = "open"
	StatusFilled     Status = "filled"
	StatusOrdered    Status = "ordered"
	StatusReady      Status = "ready"
	StatusCollecting Status = "collecting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal сообщает, является ли статус конечным.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Payload содержит данные участника, зависящие от вида кластера.
// Реализуется только типами BasketPayload и RidePayload.
type Payload interface {
	Kind() Kind
	isPayload()
}

// BasketPayload описывает заказ участника в общей корзине.
type BasketPayload struct {
	OrderAmount Money
	Items       string
}

// Kind возвращает KindBasket.
func (BasketPayload) Kind() Kind { return KindBasket }
func (BasketPayload) isPayload() {}

// RidePayload описывает точку посадки участника поездки.
type RidePayload struct {
	Pickup  Point
	Address string
}

// Kind возвращает KindRide.
func (RidePayload) Kind() Kind { return KindRide }
func (RidePayload) isPayload() {}

// Membership описывает участие пользователя в кластере.
type Membership struct {
	UserID         int64
	JoinedAt       time.Time
	Payload        Payload
	CollectionCode string
	Collected      bool
	CollectedAt    *time.Time
}

// Capacity хранит целевой и текущий агрегат кластера.
// Для корзины это минимальная сумма заказа и собранная сумма,
// для поездки требуемое число мест и число свободных мест.
type Capacity struct {
	Target  int64
	Current int64
}

// Cluster объединяет пользователей для общего заказа или поездки.
type Cluster struct {
	ID           string
	Kind         Kind
	Title        string
	CreatorID    int64
	Members      []Membership
	Capacity     Capacity
	Status       Status
	MaxMembers   int
	Restricted   bool
	RestrictedTo string
	Location     Point
	Destination  *Point

	DeliveryDistanceKm float64
	DeliveryFee        Money
	TotalFare          Money
	FarePerPerson      Money

	ScheduledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Version увеличивается при каждой сохранённой мутации.
	Version int64
}

// Member возвращает индекс участника и признак его наличия.
func (c *Cluster) Member(userID int64) (int, bool) {
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			return i, true
		}
	}
	return -1, false
}

// MemberIDs возвращает идентификаторы участников в порядке вступления.
func (c *Cluster) MemberIDs() []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Clone возвращает глубокую копию кластера.
func (c *Cluster) Clone() *Cluster {
	cp := *c
	if c.Destination != nil {
		d := *c.Destination
		cp.Destination = &d
	}
	cp.Members = make([]Membership, len(c.Members))
	for i, m := range c.Members {
		if m.CollectedAt != nil {
			t := *m.CollectedAt
			m.CollectedAt = &t
		}
		cp.Members[i] = m
	}
	return &cp
}

// BasketClusterInput содержит параметры создания кластера-корзины.
type BasketClusterInput struct {
	Title              string
	Location           Point
	MinimumBasket      Money
	MaxMembers         int
	DeliveryDistanceKm float64
	ScheduledAt        time.Time
	Order              BasketPayload
}

// RideClusterInput содержит параметры создания кластера-поездки.
type RideClusterInput struct {
	Title         string
	Origin        Point
	Destination   Point
	SeatsRequired int
	TotalFare     Money
	Restricted    bool
	DepartureAt   time.Time
	Pickup        RidePayload
}
