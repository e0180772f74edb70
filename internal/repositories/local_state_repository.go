package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrIdentityNotFound = errors.New("identity not found")

// LocalStateRepository persists per-user client state: the friend request
// ids already surfaced as popups and the last identity used on a device.
// The surfaced set only grows.
type LocalStateRepository interface {
	MarkSurfaced(ctx context.Context, userID, requestID string) (bool, error)
	IsSurfaced(ctx context.Context, userID, requestID string) (bool, error)
	SetLastIdentity(ctx context.Context, deviceID, userID string) error
	LastIdentity(ctx context.Context, deviceID string) (DeviceIdentity, error)
}

// DeviceIdentity is the user last signed in on a device.
type DeviceIdentity struct {
	DeviceID  string    `db:"device_id" json:"device_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LocalStateRepo is a sqlx implementation of LocalStateRepository.
type LocalStateRepo struct {
	db *sqlx.DB
}

func NewLocalStateRepo(db *sqlx.DB) *LocalStateRepo {
	return &LocalStateRepo{db: db}
}

// MarkSurfaced records requestID for userID. It reports true only for the
// call that inserted the row.
func (r *LocalStateRepo) MarkSurfaced(ctx context.Context, userID, requestID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO surfaced_friend_requests (user_id, request_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, requestID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *LocalStateRepo) IsSurfaced(ctx context.Context, userID, requestID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM surfaced_friend_requests WHERE user_id=$1 AND request_id=$2)`, userID, requestID)
	return exists, err
}

func (r *LocalStateRepo) SetLastIdentity(ctx context.Context, deviceID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO device_identities (device_id, user_id, updated_at) VALUES ($1, $2, NOW())
        ON CONFLICT (device_id) DO UPDATE SET user_id = EXCLUDED.user_id, updated_at = EXCLUDED.updated_at`, deviceID, userID)
	return err
}

func (r *LocalStateRepo) LastIdentity(ctx context.Context, deviceID string) (DeviceIdentity, error) {
	var ident DeviceIdentity
	err := r.db.GetContext(ctx, &ident, `SELECT device_id, user_id, updated_at FROM device_identities WHERE device_id=$1`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceIdentity{}, ErrIdentityNotFound
	}
	return ident, err
}

// MemoryLocalState keeps local state in process memory. Used when no
// database is configured and in tests.
type MemoryLocalState struct {
	mu         sync.Mutex
	surfaced   map[string]map[string]struct{}
	identities map[string]DeviceIdentity
}

func NewMemoryLocalState() *MemoryLocalState {
	return &MemoryLocalState{
		surfaced:   make(map[string]map[string]struct{}),
		identities: make(map[string]DeviceIdentity),
	}
}

func (m *MemoryLocalState) MarkSurfaced(_ context.Context, userID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.surfaced[userID]
	if !ok {
		set = make(map[string]struct{})
		m.surfaced[userID] = set
	}
	if _, seen := set[requestID]; seen {
		return false, nil
	}
	set[requestID] = struct{}{}
	return true, nil
}

func (m *MemoryLocalState) IsSurfaced(_ context.Context, userID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.surfaced[userID][requestID]
	return ok, nil
}

func (m *MemoryLocalState) SetLastIdentity(_ context.Context, deviceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[deviceID] = DeviceIdentity{DeviceID: deviceID, UserID: userID, UpdatedAt: time.Now()}
	return nil
}

func (m *MemoryLocalState) LastIdentity(_ context.Context, deviceID string) (DeviceIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[deviceID]
	if !ok {
		return DeviceIdentity{}, ErrIdentityNotFound
	}
	return ident, nil
}
