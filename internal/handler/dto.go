package handler

import (
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Суммы в API передаются в рупиях, внутри хранятся в пайсах.

type createBasketRequest struct {
	Title              string      `json:"title"`
	Location           model.Point `json:"location"`
	MinimumBasket      float64     `json:"minimum_basket"`
	MaxMembers         int         `json:"max_members"`
	DeliveryDistanceKm float64     `json:"delivery_distance_km"`
	ScheduledAt        time.Time   `json:"scheduled_at"`
	OrderAmount        float64     `json:"order_amount"`
	Items              string      `json:"items"`
}

type createRideRequest struct {
	Title         string       `json:"title"`
	Origin        model.Point  `json:"origin"`
	Destination   model.Point  `json:"destination"`
	SeatsRequired int          `json:"seats_required"`
	TotalFare     float64      `json:"total_fare"`
	Restricted    bool         `json:"restricted"`
	DepartureAt   time.Time    `json:"departure_at"`
	Pickup        *model.Point `json:"pickup,omitempty"`
	Address       string       `json:"address"`
}

// payloadRequest содержит данные участника: order_amount и items для корзины,
// pickup и address для поездки.
type payloadRequest struct {
	OrderAmount *float64     `json:"order_amount,omitempty"`
	Items       string       `json:"items,omitempty"`
	Pickup      *model.Point `json:"pickup,omitempty"`
	Address     string       `json:"address,omitempty"`
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type ledgerResponse struct {
	Target               float64 `json:"target"`
	Current              float64 `json:"current"`
	AmountNeeded         float64 `json:"amount_needed,omitempty"`
	SeatsAvailable       int     `json:"seats_available"`
	ProgressPercent      int     `json:"progress_percent"`
	Ready                bool    `json:"ready"`
	PerPersonDeliveryFee float64 `json:"per_person_delivery_fee,omitempty"`
}

type memberResponse struct {
	UserID      int64        `json:"user_id"`
	JoinedAt    string       `json:"joined_at"`
	OrderAmount *float64     `json:"order_amount,omitempty"`
	Items       string       `json:"items,omitempty"`
	Pickup      *model.Point `json:"pickup,omitempty"`
	Address     string       `json:"address,omitempty"`
	Collected   bool         `json:"collected"`
	CollectedAt string       `json:"collected_at,omitempty"`
	Code        string       `json:"collection_code,omitempty"`
}

type clusterResponse struct {
	ID            string           `json:"id"`
	Kind          model.Kind       `json:"kind"`
	Title         string           `json:"title"`
	CreatorID     int64            `json:"creator_id"`
	Status        model.Status     `json:"status"`
	MaxMembers    int              `json:"max_members"`
	Restricted    bool             `json:"restricted"`
	RestrictedTo  string           `json:"restricted_to,omitempty"`
	Location      model.Point      `json:"location"`
	Destination   *model.Point     `json:"destination,omitempty"`
	DeliveryFee   float64          `json:"delivery_fee,omitempty"`
	TotalFare     float64          `json:"total_fare,omitempty"`
	FarePerPerson float64          `json:"fare_per_person,omitempty"`
	ScheduledAt   string           `json:"scheduled_at,omitempty"`
	Members       []memberResponse `json:"members"`
	Ledger        ledgerResponse   `json:"ledger"`
	NextStatuses  []model.Status   `json:"next_statuses,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

type candidateResponse struct {
	Cluster    clusterResponse `json:"cluster"`
	DistanceKm float64         `json:"distance_km"`
	Score      float64         `json:"score"`
}

type verifyResponse struct {
	UserID  int64           `json:"user_id"`
	Cluster clusterResponse `json:"cluster"`
}

// newClusterResponse строит ответ для viewerID: код получения виден только его владельцу,
// а доступные переходы только создателю.
func newClusterResponse(c *model.Cluster, viewerID int64) clusterResponse {
	l := cluster.Summarize(c)
	resp := clusterResponse{
		ID:           c.ID,
		Kind:         c.Kind,
		Title:        c.Title,
		CreatorID:    c.CreatorID,
		Status:       c.Status,
		MaxMembers:   c.MaxMembers,
		Restricted:   c.Restricted,
		RestrictedTo: c.RestrictedTo,
		Location:     c.Location,
		Destination:  c.Destination,
		DeliveryFee:  c.DeliveryFee.Rupees(),
		TotalFare:    c.TotalFare.Rupees(),
		Members:      make([]memberResponse, 0, len(c.Members)),
		Ledger: ledgerResponse{
			AmountNeeded:         l.AmountNeeded.Rupees(),
			SeatsAvailable:       l.SeatsAvailable,
			ProgressPercent:      l.ProgressPercent,
			Ready:                l.Ready,
			PerPersonDeliveryFee: l.PerPersonDeliveryFee.Rupees(),
		},
		FarePerPerson: c.FarePerPerson.Rupees(),
		Version:       c.Version,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
	// Для корзины цель и текущая сумма денежные, для поездки это места.
	if c.Kind == model.KindBasket {
		resp.Ledger.Target = model.Money(l.Target).Rupees()
		resp.Ledger.Current = model.Money(l.Current).Rupees()
	} else {
		resp.Ledger.Target = float64(l.Target)
		resp.Ledger.Current = float64(l.Current)
	}
	if !c.ScheduledAt.IsZero() {
		resp.ScheduledAt = c.ScheduledAt.Format(time.RFC3339)
	}
	if viewerID == c.CreatorID {
		resp.NextStatuses = cluster.AllowedTransitions(c.Kind, c.Status)
	}

	for _, m := range c.Members {
		mr := memberResponse{
			UserID:    m.UserID,
			JoinedAt:  m.JoinedAt.Format(time.RFC3339),
			Collected: m.Collected,
		}
		switch p := m.Payload.(type) {
		case model.BasketPayload:
			amount := p.OrderAmount.Rupees()
			mr.OrderAmount = &amount
			mr.Items = p.Items
		case model.RidePayload:
			pickup := p.Pickup
			mr.Pickup = &pickup
			mr.Address = p.Address
		}
		if m.CollectedAt != nil {
			mr.CollectedAt = m.CollectedAt.Format(time.RFC3339)
		}
		if m.UserID == viewerID {
			mr.Code = m.CollectionCode
		}
		resp.Members = append(resp.Members, mr)
	}
	return resp
}
