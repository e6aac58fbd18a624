package cluster

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// DefaultCodeLength задаёт длину кода получения по умолчанию.
const DefaultCodeLength = 4

// maxDrawsPerCode ограничивает число попыток подобрать уникальный код.
const maxDrawsPerCode = 64

// CodeGenerator выдаёт кандидатов в коды получения.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodes генерирует цифровые коды фиксированной длины из crypto/rand.
type RandomCodes struct {
	Length int
}

// NewRandomCodes создаёт генератор; неположительная длина заменяется длиной по умолчанию.
func NewRandomCodes(length int) RandomCodes {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return RandomCodes{Length: length}
}

// Generate возвращает очередной код.
func (g RandomCodes) Generate() (string, error) {
	n := g.Length
	if n <= 0 {
		n = DefaultCodeLength
	}
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for range n {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("draw code digit: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// IssueAll выдаёт каждому участнику, кроме создателя, код получения,
// уникальный среди непогашенных кодов кластера. Совпадения перегенерируются.
// Создатель отмечается получившим заказ. Кластер меняется только при успехе.
func IssueAll(c *model.Cluster, gen CodeGenerator, now time.Time) (map[int64]string, error) {
	if gen == nil {
		gen = NewRandomCodes(DefaultCodeLength)
	}

	active := make(map[string]struct{}, len(c.Members))
	for _, m := range c.Members {
		if m.CollectionCode != "" && !m.Collected {
			active[m.CollectionCode] = struct{}{}
		}
	}

	codes := make(map[int64]string, len(c.Members))
	for _, m := range c.Members {
		if m.UserID == c.CreatorID || m.Collected {
			continue
		}
		if m.CollectionCode != "" {
			codes[m.UserID] = m.CollectionCode
			continue
		}
		code, err := drawUnique(gen, active)
		if err != nil {
			return nil, err
		}
		active[code] = struct{}{}
		codes[m.UserID] = code
	}

	now = now.UTC()
	for i := range c.Members {
		m := &c.Members[i]
		if m.UserID == c.CreatorID {
			m.CollectionCode = ""
			if !m.Collected {
				m.Collected = true
				m.CollectedAt = &now
			}
			continue
		}
		if code, ok := codes[m.UserID]; ok {
			m.CollectionCode = code
		}
	}
	return codes, nil
}

func drawUnique(gen CodeGenerator, active map[string]struct{}) (string, error) {
	for range maxDrawsPerCode {
		code, err := gen.Generate()
		if err != nil {
			return "", err
		}
		if _, dup := active[code]; !dup {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: %d active codes", ErrCodeSpaceExhausted, len(active))
}

// Verify погашает код получения. Погашать коды может только создатель,
// который выдаёт заказы. Первое успешное погашение переводит кластер
// из ready в collecting. Возвращает идентификатор получившего участника.
func Verify(c *model.Cluster, code string, verifierID int64, now time.Time) (int64, []model.Event, error) {
	if verifierID != c.CreatorID {
		return 0, nil, fmt.Errorf("%w: only the creator can verify codes", ErrForbidden)
	}
	if c.Status != model.StatusReady && c.Status != model.StatusCollecting {
		return 0, nil, fmt.Errorf("%w: verify in status %s", ErrNotAccepting, c.Status)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, nil, ErrInvalidCode
	}

	idx, collected := -1, false
	for i, m := range c.Members {
		if m.UserID == c.CreatorID || m.CollectionCode != code {
			continue
		}
		if !m.Collected {
			idx = i
			break
		}
		collected = true
	}
	if idx < 0 {
		if collected {
			return 0, nil, ErrAlreadyCollected
		}
		return 0, nil, ErrInvalidCode
	}

	now = now.UTC()
	m := &c.Members[idx]
	m.Collected = true
	m.CollectedAt = &now
	c.UpdatedAt = now

	ev := newEvent(c, model.EventCodeVerified, verifierID, now)
	ev.UserID = m.UserID
	events := []model.Event{ev}
	if c.Status == model.StatusReady {
		c.Status = model.StatusCollecting
		events = append(events, statusEvent(c, model.StatusReady, verifierID, now))
	}
	return m.UserID, events, nil
}
