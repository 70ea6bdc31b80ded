package automation

import (
	"academy/database"
	"academy/models"
	"academy/rules"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func createUser(t *testing.T, db *gorm.DB, email, role string) *models.User {
	t.Helper()
	user := &models.User{Name: strings.Split(email, "@")[0], Email: email, Role: role}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createCourse(t *testing.T, db *gorm.DB, slug, title string) *models.Course {
	t.Helper()
	course := &models.Course{Slug: slug, Title: title}
	require.NoError(t, db.Create(course).Error)
	return course
}

func createSequence(t *testing.T, db *gorm.DB, slug, trigger string, offsets ...int) *models.Sequence {
	t.Helper()
	seq := &models.Sequence{Slug: slug, Name: slug, TriggerType: trigger}
	for i, off := range offsets {
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepIndex: i,
			DayOffset: off,
			Subject:   fmt.Sprintf("%s step %d", slug, i),
			Body:      "<p>Hi {{name}}</p>",
		})
	}
	require.NoError(t, db.Create(seq).Error)
	return seq
}

func count(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *fakeMailer) Send(_ context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}

type fakeVerifier struct {
	deliverable bool
	err         error
}

func (v fakeVerifier) Verify(context.Context, string) (bool, error) {
	return v.deliverable, v.err
}

type directMessage struct {
	SenderID    uint
	RecipientID uint
	Body        string
}

type fakeMessenger struct {
	mu   sync.Mutex
	msgs []directMessage
	err  error
}

func (m *fakeMessenger) SendDirectMessage(_ context.Context, senderID, recipientID uint, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, directMessage{SenderID: senderID, RecipientID: recipientID, Body: body})
	return nil
}

func (m *fakeMessenger) Messages() []directMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]directMessage(nil), m.msgs...)
}

var errTransport = errors.New("transport down")

// fixture is a fully wired engine over an in-memory database seeded with the
// catalog the default rules reference.
type fixture struct {
	db        *gorm.DB
	log       *zap.Logger
	registry  *rules.Registry
	engine    *Engine
	mailer    *fakeMailer
	messenger *fakeMessenger
	staff     *models.User
	admin     *models.User
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	dedupe      bool
	concurrency int
	verifier    AddressVerifier
}

func withDedupe() fixtureOption { return func(c *fixtureConfig) { c.dedupe = true } }

func withConcurrency(n int) fixtureOption { return func(c *fixtureConfig) { c.concurrency = n } }

func withVerifier(v AddressVerifier) fixtureOption { return func(c *fixtureConfig) { c.verifier = v } }

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{concurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	registry, err := rules.Default()
	require.NoError(t, err)

	createCourse(t, db, "functional-medicine-certification", "Functional Medicine Certification")
	createCourse(t, db, "fm-pro-advanced-clinical", "Advanced Clinical Mastery")
	createCourse(t, db, "fm-pro-master-clinician", "Master Clinician")
	createCourse(t, db, "fm-pro-practice-builder", "Practice Builder")
	createCourse(t, db, "intro-to-functional-medicine", "Intro to Functional Medicine")
	createSequence(t, db, "mini-diploma-nurture", "MINI_DIPLOMA_OPTIN", 0, 1, 3)
	createSequence(t, db, "certification-onboarding", "COURSE_PURCHASED", 0, 2)

	staff := createUser(t, db, "fulfillment@academy.test", models.RoleStaff)
	admin := createUser(t, db, "admin@academy.test", models.RoleAdmin)

	mailer := &fakeMailer{}
	messenger := &fakeMessenger{}
	dispatcherOpts := []DispatcherOption{WithDedupe(cfg.dedupe)}
	if cfg.verifier != nil {
		dispatcherOpts = append(dispatcherOpts, WithVerifier(cfg.verifier))
	}
	dispatcher := NewDispatcher(db, mailer, messenger, log, dispatcherOpts...)

	tags := NewTagStore(db, log)
	sequences := NewSequenceScheduler(db, log, DefaultSequenceInitialDelay, 9)
	policy := FixedAssignee{Directory: NewGormStaffDirectory(db), Email: staff.Email}

	engine := NewEngine(db, registry, Components{
		Tags:        tags,
		Enroller:    NewEnrollmentExecutor(db, tags, log),
		Promoter:    NewLifecyclePromoter(db, registry, log),
		Sequences:   sequences,
		Fulfillment: NewFulfillmentHandler(db, tags, policy, log, "https://academy.test"),
		MiniDiploma: NewMiniDiplomaHandler(db, tags, sequences, log, "https://academy.test"),
		Dispatcher:  dispatcher,
	}, log, Settings{AppBaseURL: "https://academy.test", BundleConcurrency: cfg.concurrency})

	return &fixture{
		db:        db,
		log:       log,
		registry:  registry,
		engine:    engine,
		mailer:    mailer,
		messenger: messenger,
		staff:     staff,
		admin:     admin,
	}
}
