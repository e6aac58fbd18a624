// Package cluster реализует жизненный цикл кластера: реестр участников,
// учёт ёмкости, машину состояний и выдачу кодов получения.
//
// Все функции пакета работают над переданным снимком кластера и изменяют
// его на месте. Вызывающий код передаёт копию снимка и сохраняет её целиком
// только при отсутствии ошибки, поэтому частично применённая мутация
// никогда не попадает в хранилище.
package cluster

import "errors"

var (
	// ErrForbidden возвращается, если у участника нет права на действие.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition возвращается при запросе перехода, отсутствующего в таблице.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCapacityExceeded возвращается при вступлении в заполненный кластер.
	ErrCapacityExceeded = errors.New("cluster capacity exceeded")
	// ErrAlreadyMember возвращается при повторном вступлении.
	ErrAlreadyMember = errors.New("user is already a member")
	// ErrNotAMember возвращается, если пользователь не состоит в кластере.
	ErrNotAMember = errors.New("user is not a member")
	// ErrInvalidCode возвращается, если код получения не найден.
	ErrInvalidCode = errors.New("invalid collection code")
	// ErrAlreadyCollected возвращается при повторном погашении кода.
	ErrAlreadyCollected = errors.New("already collected")
	// ErrNotAccepting возвращается, если текущий статус не допускает операцию.
	ErrNotAccepting = errors.New("cluster status does not allow this operation")
	// ErrInvalidPayload возвращается при некорректных данных участника.
	ErrInvalidPayload = errors.New("invalid member payload")
	// ErrCodeSpaceExhausted возвращается, если не удалось подобрать уникальные коды.
	ErrCodeSpaceExhausted = errors.New("collection code space exhausted")
)
