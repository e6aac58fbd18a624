package model

import "time"

// EventKind определяет тип события жизненного цикла.
type EventKind string

const (
	EventClusterCreated EventKind = "cluster_created"
	EventMemberJoined   EventKind = "member_joined"
	EventMemberLeft     EventKind = "member_left"
	EventPayloadUpdated EventKind = "payload_updated"
	EventStatusChanged  EventKind = "status_changed"
	EventCodesIssued    EventKind = "codes_issued"
	EventCodeVerified   EventKind = "code_verified"
)

// Event описывает факт изменения кластера, доставляемый подписчикам
// после фиксации мутации. ActorID равен нулю для автоматических переходов.
type Event struct {
	Kind        EventKind `json:"kind"`
	ClusterID   string    `json:"cluster_id"`
	ClusterKind Kind      `json:"cluster_kind"`
	ActorID     int64     `json:"actor_id,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	From        Status    `json:"from,omitempty"`
	To          Status    `json:"to,omitempty"`
	Recipients  []int64   `json:"recipients,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`

	// Codes содержит выданные коды получения по пользователям.
	// Не сериализуется: коды доставляются только письмом.
	Codes map[int64]string `json:"-"`
}
