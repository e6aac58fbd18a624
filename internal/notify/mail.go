package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Mailer отправляет письмо одному получателю.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// UserDirectory разрешает идентификатор пользователя в адрес.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// SendGridMailer отправляет письма через SendGrid.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

// NewSendGridMailer создаёт Mailer поверх SendGrid.
func NewSendGridMailer(apiKey, from string) *SendGridMailer {
	return &SendGridMailer{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: "MoveMeal",
	}
}

// Send отправляет письмо.
func (m *SendGridMailer) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("to address is empty")
	}

	message := mail.NewSingleEmail(
		mail.NewEmail(m.fromName, m.from),
		subject,
		mail.NewEmail("", to),
		body,
		fmt.Sprintf("<pre>%s</pre>", body),
	)

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}
	return nil
}

// pendingTTL ограничивает время хранения отметок о частично доставленных событиях.
const pendingTTL = time.Hour

// MailSink оповещает участников письмами о смене статуса и выдаче кодов.
// Код получения отправляется только его владельцу. При повторной доставке
// события письма получают только те, кому отправка ещё не удалась.
type MailSink struct {
	mailer Mailer
	users  UserDirectory

	mu      sync.Mutex
	pending map[string]*pendingMail
}

type pendingMail struct {
	sent map[int64]struct{}
	at   time.Time
}

type letter struct {
	userID  int64
	subject string
	body    string
}

// NewMailSink создаёт канал доставки писем.
func NewMailSink(mailer Mailer, users UserDirectory) *MailSink {
	return &MailSink{mailer: mailer, users: users, pending: make(map[string]*pendingMail)}
}

// Name возвращает имя канала доставки.
func (s *MailSink) Name() string { return "mail" }

// Deliver отправляет письма получателям события.
func (s *MailSink) Deliver(ctx context.Context, ev model.Event) error {
	letters := lettersFor(ev)
	if len(letters) == 0 {
		return nil
	}

	key := mailKey(ev)
	var errs []error
	for _, l := range letters {
		if s.wasSent(key, l.userID) {
			continue
		}
		if err := s.send(ctx, l.userID, l.subject, l.body); err != nil {
			errs = append(errs, err)
			continue
		}
		s.markSent(key, l.userID)
	}

	if len(errs) == 0 {
		s.forget(key)
	}
	return errors.Join(errs...)
}

func lettersFor(ev model.Event) []letter {
	var letters []letter
	switch ev.Kind {
	case model.EventCodesIssued:
		for userID, code := range ev.Codes {
			letters = append(letters, letter{
				userID:  userID,
				subject: "Your order is ready for pickup",
				body:    fmt.Sprintf("Show this code to collect your share of cluster %s: %s", ev.ClusterID, code),
			})
		}

	case model.EventStatusChanged:
		subject := fmt.Sprintf("Cluster is now %s", humanStatus(ev.To))
		body := fmt.Sprintf("The %s cluster %s moved from %s to %s.", ev.ClusterKind, ev.ClusterID,
			humanStatus(ev.From), humanStatus(ev.To))
		for _, userID := range ev.Recipients {
			if userID == ev.ActorID {
				continue
			}
			letters = append(letters, letter{userID: userID, subject: subject, body: body})
		}
	}
	return letters
}

func mailKey(ev model.Event) string {
	return fmt.Sprintf("%s/%s/%s/%d", ev.ClusterID, ev.Kind, ev.To, ev.OccurredAt.UnixNano())
}

func (s *MailSink) wasSent(key string, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[key]
	if !ok {
		return false
	}
	_, sent := p.sent[userID]
	return sent
}

func (s *MailSink) markSent(key string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, p := range s.pending {
		if now.Sub(p.at) > pendingTTL {
			delete(s.pending, k)
		}
	}

	p, ok := s.pending[key]
	if !ok {
		p = &pendingMail{sent: make(map[int64]struct{}), at: now}
		s.pending[key] = p
	}
	p.sent[userID] = struct{}{}
}

func (s *MailSink) forget(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *MailSink) send(ctx context.Context, userID int64, subject, body string) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve user %d: %w", userID, err)
	}
	if err := s.mailer.Send(ctx, u.Email, subject, body); err != nil {
		return fmt.Errorf("mail user %d: %w", userID, err)
	}
	return nil
}

func humanStatus(s model.Status) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
