package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/normalize"
	"github.com/cloo-solutions/supportdesk/internal/pagination"
	"github.com/cloo-solutions/supportdesk/internal/profile"
)

type MockTurnLister struct {
	mock.Mock
}

func (m *MockTurnLister) ListTurns(ctx context.Context, sessionID string, cursor *pagination.Cursor, limit int) (pagination.Page[domain.SessionTurn], error) {
	args := m.Called(ctx, sessionID, cursor, limit)
	return args.Get(0).(pagination.Page[domain.SessionTurn]), args.Error(1)
}

func TestSessionService_ListTurns(t *testing.T) {
	lister := new(MockTurnLister)
	svc := NewSessionService(lister)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cursor := pagination.EncodeCursor("turn-9", ts)

	lister.On("ListTurns", mock.Anything, "s-1", (*pagination.Cursor)(nil), pagination.DefaultLimit).
		Return(pagination.Page[domain.SessionTurn]{}, nil)
	lister.On("ListTurns", mock.Anything, "s-1", &pagination.Cursor{LastID: "turn-9", Timestamp: ts}, pagination.MaxLimit).
		Return(pagination.Page[domain.SessionTurn]{Items: []domain.SessionTurn{{ID: "turn-10"}}}, nil)

	page, err := svc.ListTurns(context.Background(), "s-1", "", 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	page, err = svc.ListTurns(context.Background(), "s-1", cursor, 1000)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "turn-10", page.Items[0].ID)
}

func TestSessionService_ListTurns_Errors(t *testing.T) {
	lister := new(MockTurnLister)
	svc := NewSessionService(lister)

	_, err := svc.ListTurns(context.Background(), " ", "", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)

	_, err = svc.ListTurns(context.Background(), "s", "%%%", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidPagination)

	lister.On("ListTurns", mock.Anything, "s", mock.Anything, 10).
		Return(pagination.Page[domain.SessionTurn]{}, errors.New("db down"))
	_, err = svc.ListTurns(context.Background(), "s", "", 10)
	assert.EqualError(t, err, "db down")
}

type fakeReloader struct {
	snap    *profile.Snapshot
	changed bool
	err     error
}

func (f *fakeReloader) Current() *profile.Snapshot { return f.snap }

func (f *fakeReloader) Reload(context.Context) (bool, error) { return f.changed, f.err }

func TestAdminService(t *testing.T) {
	snap := profile.MustDefault()
	svc := NewAdminService(&fakeReloader{snap: snap, changed: true})

	info := svc.Profile()
	assert.Equal(t, "default", info.Name)
	assert.Equal(t, snap.Version, info.Version)
	assert.Equal(t, 10, info.TopK)
	assert.Equal(t, domain.DefaultWeights(), info.Weights)
	assert.NotZero(t, info.Rewrites)
	assert.NotZero(t, info.HandoffRules)

	preview, err := svc.Normalize("Control 4 Wi-Fi   won't connect")
	require.NoError(t, err)
	assert.Equal(t, "control4 wifi cannot connect", preview.Normalized)
	assert.Equal(t, snap.Normalizer.Version(), preview.Version)

	_, err = svc.Normalize("  ")
	assert.ErrorIs(t, err, domain.ErrMissingText)

	_, changed, err := svc.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestAdminService_ReloadError(t *testing.T) {
	svc := NewAdminService(&fakeReloader{snap: profile.MustDefault(), err: errors.New("bad toml")})

	_, _, err := svc.Reload(context.Background())
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeValidation, de.Code)
}

func TestAdminService_NormalizeIsIdempotent(t *testing.T) {
	n := normalize.MustNew(profile.MustDefault().Profile.Rewrites)
	once := n.Normalize("Sign In to the Control 4 app")
	assert.Equal(t, once, n.Normalize(once))
}
