package worker

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"voltcrm/config"
	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.MigrateDB(db))
	return store.NewStore(db)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCfg() config.WorkerConfig {
	return config.WorkerConfig{
		ActivationInterval: time.Minute,
		GeneratorInterval:  time.Minute,
		DispatchInterval:   time.Minute,
		ReplyInterval:      time.Minute,
		BatchSize:          50,
		MaxSendAttempts:    2,
		StaleGenerating:    time.Hour,
		StaleProcessing:    2 * time.Hour,
	}
}

func noopNotifier() *utils.Notifier {
	return utils.NewNotifier(config.RedisConfig{})
}

// seedSequence creates an active sequence whose steps alternate as given.
func seedSequence(t *testing.T, s *store.Store, stepTypes ...string) *models.Sequence {
	t.Helper()
	sequence := &models.Sequence{
		OwnerID: 1,
		Name:    "Contract renewal outreach",
		Status:  models.SequenceStatusActive,
	}
	for i, stepType := range stepTypes {
		sequence.Steps = append(sequence.Steps, models.SequenceStep{
			StepIndex: i,
			StepType:  stepType,
		})
	}
	require.NoError(t, s.DB.Create(sequence).Error)
	return sequence
}

func seedContact(t *testing.T, s *store.Store, email string) *models.Contact {
	t.Helper()
	contact := &models.Contact{
		OwnerID:   1,
		FirstName: "Dana",
		Email:     email,
	}
	require.NoError(t, s.DB.Create(contact).Error)
	return contact
}

// fakeMailer records deliveries and fails on demand.
type fakeMailer struct {
	sent []utils.Email
	err  error
}

func (m *fakeMailer) Send(email utils.Email) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, email)
	return fmt.Sprintf("delivery-%d", len(m.sent)), nil
}

// fakeGenerator returns canned content or a canned error.
type fakeGenerator struct {
	calls int
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, req utils.GenerationRequest) (*utils.GenerationResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &utils.GenerationResult{
		Subject: fmt.Sprintf("Hello %s", req.TargetContext.FirstName),
		Body:    fmt.Sprintf("Step %d draft", req.TargetContext.StepIndex),
	}, nil
}
