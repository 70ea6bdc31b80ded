package automation

import (
	"academy/models"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func welcomeNote(userID uint) Notification {
	return Notification{
		Kind:      KindDfyWelcomeEmail,
		Channel:   models.ChannelEmail,
		UserID:    userID,
		To:        "buyer@academy.test",
		Subject:   "Welcome",
		HTML:      "<p>hi</p>",
		DedupeKey: "dfy_purchase:1:welcome",
	}
}

func TestDispatchRecordsOutcome(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, nil, zaptest.NewLogger(t))

	assert.Equal(t, Delivered, d.Dispatch(context.Background(), welcomeNote(7)))
	require.Len(t, mailer.Sent(), 1)

	var row models.OutboundNotification
	require.NoError(t, db.Order("id desc").First(&row).Error)
	assert.Equal(t, models.NotificationSent, row.Status)
	assert.Equal(t, "buyer@academy.test", row.Recipient)
	assert.EqualValues(t, 7, row.UserID)

	mailer.err = errTransport
	assert.Equal(t, NotDelivered, d.Dispatch(context.Background(), welcomeNote(7)))
	var failed models.OutboundNotification
	require.NoError(t, db.Order("id desc").First(&failed).Error)
	assert.NotEqual(t, row.ID, failed.ID)
	assert.Equal(t, models.NotificationFailed, failed.Status)
	assert.Equal(t, errTransport.Error(), failed.Error)
	assert.EqualValues(t, 2, count(t, db, &models.OutboundNotification{}, ""))
}

func TestDispatchVerifier(t *testing.T) {
	t.Run("undeliverable is skipped", func(t *testing.T) {
		db := newTestDB(t)
		mailer := &fakeMailer{}
		d := NewDispatcher(db, mailer, nil, zaptest.NewLogger(t), WithVerifier(fakeVerifier{deliverable: false}))

		assert.Equal(t, NotDelivered, d.Dispatch(context.Background(), welcomeNote(1)))
		assert.Empty(t, mailer.Sent())
		assert.EqualValues(t, 1, count(t, db, &models.OutboundNotification{}, "status = ?", models.NotificationSkipped))
	})

	t.Run("verifier outage still sends", func(t *testing.T) {
		db := newTestDB(t)
		mailer := &fakeMailer{}
		d := NewDispatcher(db, mailer, nil, zaptest.NewLogger(t), WithVerifier(fakeVerifier{err: errTransport}))

		assert.Equal(t, Delivered, d.Dispatch(context.Background(), welcomeNote(1)))
		assert.Len(t, mailer.Sent(), 1)
	})
}

func TestDispatchWithoutTransport(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, nil, nil, zaptest.NewLogger(t))

	assert.Equal(t, NotDelivered, d.Dispatch(context.Background(), welcomeNote(1)))
	assert.Equal(t, NotDelivered, d.Dispatch(context.Background(), Notification{Kind: KindDfyStaffMessage, Channel: models.ChannelDM, Recipient: 3, Body: "x"}))
	assert.EqualValues(t, 2, count(t, db, &models.OutboundNotification{}, "status = ?", models.NotificationSkipped))
}

func TestDispatchDirectMessage(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, nil, NewDirectMessenger(db), zaptest.NewLogger(t))

	delivery := d.Dispatch(context.Background(), Notification{
		Kind:      KindDfyStaffMessage,
		Channel:   models.ChannelDM,
		SenderID:  1,
		Recipient: 2,
		Body:      "New purchase",
	})
	require.Equal(t, Delivered, delivery)

	var msg models.DirectMessage
	require.NoError(t, db.First(&msg).Error)
	assert.EqualValues(t, 2, msg.RecipientID)
	assert.Equal(t, "New purchase", msg.Body)
	assert.False(t, msg.IsRead)
}

func TestDispatchDedupe(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, nil, zaptest.NewLogger(t), WithDedupe(true))

	assert.Equal(t, Delivered, d.Dispatch(context.Background(), welcomeNote(1)))
	assert.Equal(t, AlreadyDelivered, d.Dispatch(context.Background(), welcomeNote(1)))
	assert.Len(t, mailer.Sent(), 1)
	assert.EqualValues(t, 1, count(t, db, &models.OutboundNotification{}, ""))

	other := welcomeNote(1)
	other.DedupeKey = "dfy_purchase:2:welcome"
	assert.Equal(t, Delivered, d.Dispatch(context.Background(), other))
	assert.Len(t, mailer.Sent(), 2)
}

func TestDispatchAllCombinesKinds(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	messenger := &fakeMessenger{err: errTransport}
	d := NewDispatcher(db, mailer, messenger, zaptest.NewLogger(t))

	sent := d.DispatchAll(context.Background(), []Notification{
		welcomeNote(1),
		{Kind: KindDfyStaffMessage, Channel: models.ChannelDM, Recipient: 2, Body: "x"},
	})
	assert.Equal(t, []Delivery{Delivered, NotDelivered}, sent)
}

type panickyMailer struct{}

func (panickyMailer) Send(context.Context, Email) error { panic("boom") }

func TestDispatchRecoversFromPanic(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, panickyMailer{}, nil, zaptest.NewLogger(t))

	assert.Equal(t, NotDelivered, d.Dispatch(context.Background(), welcomeNote(1)))
	assert.EqualValues(t, 1, count(t, db, &models.OutboundNotification{}, "status = ?", models.NotificationFailed))
}
