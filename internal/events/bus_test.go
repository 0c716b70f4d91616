package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockEventRepo struct {
	appended  []*domain.AutoTradeEvent
	appendErr error
}

func (m *mockEventRepo) Append(ctx context.Context, event *domain.AutoTradeEvent) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, event)
	return nil
}

func (m *mockEventRepo) FindRecentEvents(ctx context.Context, limit int) ([]*domain.AutoTradeEvent, error) {
	return nil, nil
}

func TestBus_PublishFansOutInOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(func(ctx context.Context, e domain.AutoTradeEvent) { order = append(order, "first") })
	bus.Subscribe(func(ctx context.Context, e domain.AutoTradeEvent) { order = append(order, "second") })

	bus.Publish(context.Background(), domain.AutoTradeEvent{Message: "hello"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_PublishAssignsIDAndTimestamp(t *testing.T) {
	bus := NewBus()
	var got domain.AutoTradeEvent
	bus.Subscribe(func(ctx context.Context, e domain.AutoTradeEvent) { got = e })

	bus.Publish(context.Background(), domain.AutoTradeEvent{Message: "hello"})
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestBus_PreservesCallerIDAndTimestamp(t *testing.T) {
	bus := NewBus()
	var got domain.AutoTradeEvent
	bus.Subscribe(func(ctx context.Context, e domain.AutoTradeEvent) { got = e })

	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	bus.Publish(context.Background(), domain.AutoTradeEvent{ID: "fixed", CreatedAt: at})
	assert.Equal(t, "fixed", got.ID)
	assert.Equal(t, at, got.CreatedAt)
}

func TestBus_PublishAfterCloseIsNoOp(t *testing.T) {
	bus := NewBus()
	delivered := 0
	bus.Subscribe(func(ctx context.Context, e domain.AutoTradeEvent) { delivered++ })

	bus.Publish(context.Background(), domain.AutoTradeEvent{})
	bus.Close()
	bus.Publish(context.Background(), domain.AutoTradeEvent{})
	assert.Equal(t, 1, delivered)
}

func TestBus_SubscribeAfterCloseIsIgnored(t *testing.T) {
	bus := NewBus()
	bus.Close()
	bus.Subscribe(func(ctx context.Context, e domain.AutoTradeEvent) { t.Fatal("should not deliver") })
	bus.Publish(context.Background(), domain.AutoTradeEvent{})
}

func TestLedgerSink_PersistsEvents(t *testing.T) {
	repo := &mockEventRepo{}
	sink := LedgerSink(repo, &mockLogger{})

	sink(context.Background(), domain.AutoTradeEvent{ID: "e1", Message: "traded"})
	require.Len(t, repo.appended, 1)
	assert.Equal(t, "e1", repo.appended[0].ID)
}

func TestLedgerSink_AppendFailureIsSwallowed(t *testing.T) {
	repo := &mockEventRepo{appendErr: errors.New("disk full")}
	logger := &mockLogger{}
	sink := LedgerSink(repo, logger)

	// Must not panic or propagate; the failure only gets logged.
	sink(context.Background(), domain.AutoTradeEvent{Message: "traded"})
	require.Len(t, logger.warnMsgs, 1)
}

func TestLogSink_RoutesBySeverity(t *testing.T) {
	logger := &mockLogger{}
	sink := LogSink(logger)

	sink(context.Background(), domain.AutoTradeEvent{Severity: domain.SeverityInfo, Message: "ok"})
	sink(context.Background(), domain.AutoTradeEvent{Severity: domain.SeverityWarning, Message: "careful"})
	sink(context.Background(), domain.AutoTradeEvent{Severity: domain.SeverityError, Message: "broken"})

	assert.Equal(t, []string{"ok"}, logger.infoMsgs)
	assert.Equal(t, []string{"careful"}, logger.warnMsgs)
	assert.Equal(t, []string{"broken"}, logger.errorMsgs)
}
