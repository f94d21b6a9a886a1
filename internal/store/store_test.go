package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"sessions", "session_settings", "messages"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Session store tests ---

func TestSessionStore_CreateAndGet(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{
		ID:      "sess-1",
		OwnerID: "user-1",
		Status:  domain.StatusInitializing,
	}))

	rec, err := ss.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.ID)
	assert.Equal(t, "user-1", rec.OwnerID)
	assert.Equal(t, domain.StatusInitializing, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestSessionStore_Get_NotFound(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	_, err := ss.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "sess-1", OwnerID: "u", Status: domain.StatusConnected}))
	require.NoError(t, ss.Delete("sess-1"))

	_, err := ss.Get("sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, ss.Delete("sess-1"))
}

func TestSessionStore_UpdateStatus(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "sess-1", OwnerID: "u", Status: domain.StatusInitializing}))

	require.NoError(t, ss.UpdateStatus("sess-1", domain.StatusConnected, "15551234567"))
	rec, err := ss.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, rec.Status)
	assert.Equal(t, "15551234567", rec.PhoneNumber)

	// Status-only update keeps the phone number.
	require.NoError(t, ss.UpdateStatus("sess-1", domain.StatusDisconnected, ""))
	rec, err = ss.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, rec.Status)
	assert.Equal(t, "15551234567", rec.PhoneNumber)
}

func TestSessionStore_ListByStatus(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "a", OwnerID: "u", Status: domain.StatusConnected}))
	require.NoError(t, ss.Create(domain.SessionRecord{ID: "b", OwnerID: "u", Status: domain.StatusConnecting}))
	require.NoError(t, ss.Create(domain.SessionRecord{ID: "c", OwnerID: "u", Status: domain.StatusFailed}))

	recs, err := ss.ListByStatus(domain.StatusConnected, domain.StatusConnecting)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	ids := []string{recs[0].ID, recs[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSessionStore_ListByStatus_Empty(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	recs, err := ss.ListByStatus()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSessionStore_TouchLastActive(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "sess-1", OwnerID: "u", Status: domain.StatusConnected}))
	require.NoError(t, ss.TouchLastActive("sess-1"))

	rec, err := ss.Get("sess-1")
	require.NoError(t, err)
	assert.False(t, rec.LastActiveAt.IsZero())
}

// --- Settings store tests ---

func TestSettingsStore_Get_Absent(t *testing.T) {
	db := testDB(t)
	st := NewSettingsStore(db)

	_, ok, err := st.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettingsStore_UpsertRoundTrip(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)
	st := NewSettingsStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "sess-1", OwnerID: "u", Status: domain.StatusConnected}))

	want := domain.SessionSettings{
		AlwaysOnline:       true,
		AutoReadMessages:   true,
		RejectCalls:        false,
		TypingIndicator:    true,
		LinkPreview:        false,
		RateLimitPerMinute: 15,
	}
	require.NoError(t, st.Upsert("sess-1", want))

	got, ok, err := st.Get("sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Second upsert overwrites.
	want.AlwaysOnline = false
	want.RateLimitPerMinute = 30
	require.NoError(t, st.Upsert("sess-1", want))

	got, ok, err = st.Get("sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

// --- Message store tests ---

func TestMessageStore_Lifecycle(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)
	ms := NewMessageStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "sess-1", OwnerID: "u", Status: domain.StatusConnected}))
	require.NoError(t, ms.Create("msg-1", "sess-1"))

	rec, err := ms.Get("msg-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessagePending, rec.Status)

	require.NoError(t, ms.MarkSent("msg-1", "PROV123"))
	rec, err = ms.Get("msg-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, rec.Status)
	assert.Equal(t, "PROV123", rec.ProviderMessageID)
	assert.False(t, rec.SentAt.IsZero())

	require.NoError(t, ms.MarkDelivered("msg-1"))
	rec, _ = ms.Get("msg-1")
	assert.Equal(t, domain.MessageDelivered, rec.Status)

	require.NoError(t, ms.MarkRead("msg-1"))
	rec, _ = ms.Get("msg-1")
	assert.Equal(t, domain.MessageRead, rec.Status)
}

func TestMessageStore_MarkFailed(t *testing.T) {
	db := testDB(t)
	ss := NewSessionStore(db)
	ms := NewMessageStore(db)

	require.NoError(t, ss.Create(domain.SessionRecord{ID: "sess-1", OwnerID: "u", Status: domain.StatusConnected}))
	require.NoError(t, ms.Create("msg-1", "sess-1"))
	require.NoError(t, ms.MarkFailed("msg-1", "rate limit exceeded"))

	rec, err := ms.Get("msg-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageFailed, rec.Status)
	assert.Equal(t, "rate limit exceeded", rec.ErrorMessage)
}

func TestMessageStore_Get_NotFound(t *testing.T) {
	db := testDB(t)
	ms := NewMessageStore(db)

	_, err := ms.Get("missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
