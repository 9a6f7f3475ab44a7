package activitymap_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
	"github.com/trailblaze/trailblaze-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType:  auth.ActivityEventAccountStatusChanged,
		Actor:      auth.ActorRef{ID: "gestor", Type: "SYSBO"},
		Username:   "joana",
		FromStatus: auth.AccountStatusActive,
		ToStatus:   auth.AccountStatusSuspended,
		Metadata:   map[string]any{"reason": "duplicate account"},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "gestor", out.ActorID)
	assert.Equal(t, string(auth.ActivityEventAccountStatusChanged), out.Verb)
	assert.Equal(t, "account", out.ObjectType)
	assert.Equal(t, "joana", out.ObjectID)
	assert.Equal(t, "identity", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))

	assert.Equal(t, "duplicate account", out.Metadata["reason"])
	assert.Equal(t, "SYSBO", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, string(auth.AccountStatusActive), out.Metadata[activitymap.MetadataKeyFromStatus])
	assert.Equal(t, string(auth.AccountStatusSuspended), out.Metadata[activitymap.MetadataKeyToStatus])

	// the source event is not mutated
	assert.Len(t, event.Metadata, 1)
}

func TestNormalizeOptions(t *testing.T) {
	fixed := time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)

	out := activitymap.Normalize(auth.ActivityEvent{EventType: auth.ActivityEventLogout},
		activitymap.WithChannel("audit"),
		activitymap.WithObjectType("session"),
		activitymap.WithActorFallback("scheduler"),
		activitymap.WithClock(func() time.Time { return fixed }),
	)

	assert.Equal(t, "scheduler", out.ActorID)
	assert.Equal(t, "audit", out.Channel)
	assert.Equal(t, "session", out.ObjectType)
	assert.Empty(t, out.ObjectID)
	assert.Nil(t, out.Metadata)
	assert.True(t, out.OccurredAt.Equal(fixed))
}

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Debug(format string, args ...any) {}
func (c *captureLogger) Info(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}
func (c *captureLogger) Warn(format string, args ...any)  {}
func (c *captureLogger) Error(format string, args ...any) {}

func TestSinkLogsNormalizedRecord(t *testing.T) {
	logger := &captureLogger{}
	sink := activitymap.Sink(logger)

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
		Actor:     auth.ActorRef{ID: "joana", Type: "RU"},
		Username:  "joana",
	})
	require.NoError(t, err)
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "auth.login.success")
	assert.Contains(t, logger.lines[0], "joana")
}
