package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"automail/config"
	"automail/metrics"
	"automail/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// setupTestDB opens a file-backed sqlite database with the full schema.
// A single connection serializes statements the way row locks would.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "engine.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.MigrateDB(db))
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []*Message
	fail func(msg *Message) error
}

func (f *fakeTransport) Send(_ context.Context, msg *Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(msg); err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, msg)
	return msg.ID, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	db        *gorm.DB
	engine    *Engine
	transport *fakeTransport
	clock     *testClock
	logs      *test.Hook
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	db := setupTestDB(t)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		db:        db,
		transport: &fakeTransport{},
		clock:     &testClock{now: t0},
		logs:      hook,
		metrics:   metrics.New(prometheus.NewRegistry()),
	}

	opts := DefaultOptions()
	opts.Logger = log
	opts.Metrics = f.metrics
	opts.Clock = f.clock.Now
	for _, m := range mutate {
		m(&opts)
	}
	f.engine = New(db, f.transport, opts)
	return f
}

func createTestSender(t *testing.T, db *gorm.DB, userID uint) *models.Sender {
	t.Helper()
	sender := &models.Sender{
		UserID:    userID,
		Name:      "Primary",
		FromEmail: "hello@acme.test",
		FromName:  "Acme",
	}
	require.NoError(t, db.Create(sender).Error)
	return sender
}

type stepSpec struct {
	DelayDays  int
	DelayHours int
	SendTime   string
}

// createTestSequence creates an active sequence with one step per stepSpec.
func createTestSequence(t *testing.T, db *gorm.DB, userID uint, trigger string, steps ...stepSpec) *models.Sequence {
	t.Helper()
	sender := createTestSender(t, db, userID)

	seq := &models.Sequence{
		UserID:      userID,
		SenderID:    sender.ID,
		Name:        "Onboarding",
		Status:      models.SequenceStatusActive,
		TriggerType: trigger,
		Timezone:    "UTC",
	}
	require.NoError(t, db.Create(seq).Error)

	for i, s := range steps {
		step := models.SequenceStep{
			SequenceID: seq.ID,
			StepOrder:  i + 1,
			DelayDays:  s.DelayDays,
			DelayHours: s.DelayHours,
			SendTime:   s.SendTime,
			Subject:    "Step {{.FirstName}}",
			Body:       "<p>Hi {{.FirstName}}</p>",
		}
		require.NoError(t, db.Create(&step).Error)
		seq.Steps = append(seq.Steps, step)
	}
	return seq
}

// updateSequence saves mutated sequence fields through the struct path so
// json-serialized columns are encoded.
func updateSequence(t *testing.T, db *gorm.DB, seq *models.Sequence, mutate func(*models.Sequence)) {
	t.Helper()
	mutate(seq)
	require.NoError(t, db.Omit(clause.Associations).Save(seq).Error)
}

func createTestLead(t *testing.T, db *gorm.DB, userID uint, email string, tags ...string) *models.Lead {
	t.Helper()
	lead := &models.Lead{
		UserID:    userID,
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
	require.NoError(t, db.Create(lead).Error)
	for _, tag := range tags {
		require.NoError(t, db.Create(&models.LeadTag{LeadID: lead.ID, Tag: tag}).Error)
	}
	return lead
}

func loadEnrollment(t *testing.T, db *gorm.DB, sequenceID, leadID uint) models.SequenceEnrollment {
	t.Helper()
	var enrollment models.SequenceEnrollment
	require.NoError(t, db.Where("sequence_id = ? AND lead_id = ?", sequenceID, leadID).First(&enrollment).Error)
	return enrollment
}

func loadSends(t *testing.T, db *gorm.DB, enrollmentID uint) []models.ScheduledSend {
	t.Helper()
	var sends []models.ScheduledSend
	require.NoError(t, db.Where("enrollment_id = ?", enrollmentID).
		Preload("Step").
		Order("id ASC").
		Find(&sends).Error)
	return sends
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

var errBoom = errors.New("550 mailbox unavailable")
