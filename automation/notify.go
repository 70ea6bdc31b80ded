package automation

import (
	"academy/models"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notification kinds.
const (
	KindEnrollmentEmail  = "enrollment_email"
	KindDfyWelcomeEmail  = "dfy_welcome_email"
	KindDfyStaffMessage  = "dfy_staff_dm"
	KindMiniDiplomaEmail = "mini_diploma_email"
	KindSequenceStep     = "sequence_step"
)

// Delivery is the outcome of one Dispatch call.
type Delivery int

const (
	NotDelivered Delivery = iota
	Delivered
	// AlreadyDelivered means dedupe found an earlier SENT record and nothing
	// went out on this call.
	AlreadyDelivered
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case AlreadyDelivered:
		return "already_delivered"
	default:
		return "not_delivered"
	}
}

// Email is one outbound transactional message.
type Email struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// AddressVerifier checks deliverability before a send.
type AddressVerifier interface {
	Verify(ctx context.Context, address string) (bool, error)
}

// Messenger creates internal direct messages.
type Messenger interface {
	SendDirectMessage(ctx context.Context, senderID, recipientID uint, body string) error
}

// Notification is a best-effort side effect planned by a required phase and
// executed afterwards by the Dispatcher.
type Notification struct {
	Kind      string
	Channel   string
	UserID    uint
	To        string
	ToName    string
	Subject   string
	HTML      string
	SenderID  uint
	Recipient uint
	Body      string
	DedupeKey string
	Metadata  map[string]any
}

// Dispatcher sends notifications. Every call fails soft: errors are logged and
// recorded, never returned.
type Dispatcher struct {
	db        *gorm.DB
	mailer    Mailer
	verifier  AddressVerifier
	messenger Messenger
	log       *zap.Logger
	dedupe    bool
}

type DispatcherOption func(*Dispatcher)

// WithVerifier enables the deliverability check.
func WithVerifier(v AddressVerifier) DispatcherOption {
	return func(d *Dispatcher) { d.verifier = v }
}

// WithDedupe skips notifications whose dedupe key already has a SENT record.
func WithDedupe(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.dedupe = enabled }
}

func NewDispatcher(db *gorm.DB, mailer Mailer, messenger Messenger, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{db: db, mailer: mailer, messenger: messenger, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// DispatchAll sends every notification in order. Outcomes line up with ns.
func (d *Dispatcher) DispatchAll(ctx context.Context, ns []Notification) []Delivery {
	out := make([]Delivery, len(ns))
	for i, n := range ns {
		out[i] = d.Dispatch(ctx, n)
	}
	return out
}

// Dispatch sends one notification and reports what happened to it.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (delivery Delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification panicked", zap.String("kind", n.Kind), zap.Any("panic", r))
			d.record(ctx, n, models.NotificationFailed, fmt.Sprintf("panic: %v", r))
			delivery = NotDelivered
		}
	}()

	if d.dedupe && n.DedupeKey != "" && d.alreadySent(ctx, n.DedupeKey) {
		d.log.Debug("notification already sent", zap.String("kind", n.Kind), zap.String("dedupe_key", n.DedupeKey))
		return AlreadyDelivered
	}

	var ok bool
	switch n.Channel {
	case models.ChannelDM:
		ok = d.sendDM(ctx, n)
	default:
		ok = d.sendEmail(ctx, n)
	}
	if ok {
		return Delivered
	}
	return NotDelivered
}

func (d *Dispatcher) sendEmail(ctx context.Context, n Notification) bool {
	n.Channel = models.ChannelEmail
	if strings.TrimSpace(n.To) == "" {
		d.record(ctx, n, models.NotificationSkipped, "no recipient address")
		return false
	}
	if d.mailer == nil {
		d.record(ctx, n, models.NotificationSkipped, "mailer not configured")
		return false
	}

	if d.verifier != nil {
		deliverable, err := d.verifier.Verify(ctx, n.To)
		switch {
		case err != nil:
			// An unreachable verifier does not block the send.
			d.log.Warn("address verification unavailable", zap.String("kind", n.Kind), zap.Error(err))
		case !deliverable:
			d.log.Info("address not deliverable", zap.String("kind", n.Kind), zap.String("to", n.To))
			d.record(ctx, n, models.NotificationSkipped, "address not deliverable")
			return false
		}
	}

	if err := d.mailer.Send(ctx, Email{To: n.To, ToName: n.ToName, Subject: n.Subject, HTML: n.HTML}); err != nil {
		d.log.Warn("email send failed", zap.String("kind", n.Kind), zap.String("to", n.To), zap.Error(err))
		d.record(ctx, n, models.NotificationFailed, err.Error())
		return false
	}
	d.record(ctx, n, models.NotificationSent, "")
	return true
}

func (d *Dispatcher) sendDM(ctx context.Context, n Notification) bool {
	if n.Recipient == 0 {
		d.record(ctx, n, models.NotificationSkipped, "no recipient")
		return false
	}
	if d.messenger == nil {
		d.record(ctx, n, models.NotificationSkipped, "messenger not configured")
		return false
	}
	if err := d.messenger.SendDirectMessage(ctx, n.SenderID, n.Recipient, n.Body); err != nil {
		d.log.Warn("direct message failed", zap.String("kind", n.Kind), zap.Uint("recipient", n.Recipient), zap.Error(err))
		d.record(ctx, n, models.NotificationFailed, err.Error())
		return false
	}
	d.record(ctx, n, models.NotificationSent, "")
	return true
}

func (d *Dispatcher) alreadySent(ctx context.Context, key string) bool {
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&models.OutboundNotification{}).
		Where("dedupe_key = ? AND status = ?", key, models.NotificationSent).
		Count(&count).Error; err != nil {
		d.log.Warn("notification dedupe lookup failed", zap.String("dedupe_key", key), zap.Error(err))
		return false
	}
	return count > 0
}

func (d *Dispatcher) record(ctx context.Context, n Notification, status, errText string) {
	recipient := n.To
	if n.Channel == models.ChannelDM {
		recipient = fmt.Sprintf("user:%d", n.Recipient)
	}
	row := models.OutboundNotification{
		UserID:    n.UserID,
		Channel:   n.Channel,
		Kind:      n.Kind,
		Recipient: recipient,
		Subject:   n.Subject,
		Status:    status,
		Error:     errText,
		DedupeKey: n.DedupeKey,
		Metadata:  n.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		d.log.Warn("notification log write failed", zap.String("kind", n.Kind), zap.Error(err))
	}
}

// DirectMessenger stores internal messages in the inbox table.
type DirectMessenger struct {
	db *gorm.DB
}

func NewDirectMessenger(db *gorm.DB) *DirectMessenger {
	return &DirectMessenger{db: db}
}

func (m *DirectMessenger) SendDirectMessage(ctx context.Context, senderID, recipientID uint, body string) error {
	return m.db.WithContext(ctx).Create(&models.DirectMessage{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}).Error
}
