package devicestore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christianselig/apns/internal/apns"
	"github.com/christianselig/apns/internal/devicestore"
)

func TestRedisStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := devicestore.NewRedisStore(db, 24*time.Hour)

	since := time.Unix(1600000000, 0).UTC()

	mock.ExpectSet("apns:unregistered:abc123", since.Unix(), 24*time.Hour).SetVal("OK")
	mock.ExpectGet("apns:unregistered:abc123").SetVal("1600000000")
	mock.ExpectDel("apns:unregistered:abc123").SetVal(1)
	mock.ExpectGet("apns:unregistered:abc123").RedisNil()

	require.NoError(t, store.MarkUnregistered(ctx, "abc123", since))

	got, err := store.UnregisteredSince(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, since.Equal(got))

	require.NoError(t, store.Forget(ctx, "abc123"))

	_, err = store.UnregisteredSince(ctx, "abc123")
	assert.ErrorIs(t, err, devicestore.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreError(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := devicestore.NewRedisStore(db, 0)

	boom := errors.New("connection refused")
	mock.ExpectGet("apns:unregistered:abc123").SetErr(boom)

	_, err := store.UnregisteredSince(context.Background(), "abc123")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, devicestore.ErrNotFound)
}

// memoryStore records marks in memory.
type memoryStore struct {
	marks map[string]time.Time
	err   error
}

func (m *memoryStore) MarkUnregistered(_ context.Context, token string, since time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.marks[token] = since
	return nil
}

func (m *memoryStore) UnregisteredSince(_ context.Context, token string) (time.Time, error) {
	since, ok := m.marks[token]
	if !ok {
		return time.Time{}, devicestore.ErrNotFound
	}
	return since, nil
}

func (m *memoryStore) Forget(_ context.Context, token string) error {
	delete(m.marks, token)
	return nil
}

func TestRecord(t *testing.T) {
	t.Parallel()

	ts := int64(1600000000)
	unregistered, _ := apns.NewError(410, apns.ReasonUnregistered, "abc123", &ts)
	noTimestamp, _ := apns.NewError(410, apns.ReasonUnregistered, "def456", nil)
	badToken, _ := apns.NewError(400, apns.ReasonBadDeviceToken, "abc123", nil)

	tests := map[string]struct {
		err      error
		recorded bool
		token    string
	}{
		"unregistered":         {unregistered, true, "abc123"},
		"wrapped unregistered": {fmt.Errorf("pushing: %w", unregistered), true, "abc123"},
		"without timestamp":    {noTimestamp, true, "def456"},
		"bad device token":     {badToken, false, ""},
		"unknown reason":       {&apns.UnknownReasonError{Reason: "Nope", StatusCode: 400}, false, ""},
		"nil":                  {nil, false, ""},
	}

	for scenario, tt := range tests {
		tt := tt

		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			store := &memoryStore{marks: map[string]time.Time{}}
			recorded, err := devicestore.Record(context.Background(), store, tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.recorded, recorded)

			if !tt.recorded {
				assert.Empty(t, store.marks)
				return
			}

			since, err := store.UnregisteredSince(context.Background(), tt.token)
			require.NoError(t, err)
			assert.False(t, since.IsZero())
		})
	}
}

func TestRecordStoreFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	store := &memoryStore{marks: map[string]time.Time{}, err: boom}
	unregistered, _ := apns.NewError(410, apns.ReasonUnregistered, "abc123", nil)

	recorded, err := devicestore.Record(context.Background(), store, unregistered)
	assert.False(t, recorded)
	assert.ErrorIs(t, err, boom)
}
