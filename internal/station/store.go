package station

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/relaydesk/internal/models"
	"gorm.io/gorm"
)

// ErrNotInitialized is returned by write paths when the store has no
// database connection. Read paths return empty results instead.
var ErrNotInitialized = errors.New("station store: not initialized")

// ErrNotFound marks updates whose target row does not exist, so callers
// can tell a missing record from a storage failure.
var ErrNotFound = errors.New("station store: not found")

// Store persists relay stations and their tokens. Access to the underlying
// connection is serialized; callers must copy station data out and release
// the store before issuing network calls.
type Store struct {
	db *gorm.DB

	mu  sync.Mutex
	now func() time.Time
}

// NewStore constructs a station store on the given connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ListStations returns all stations ordered newest-created-first. An
// uninitialized store yields an empty list.
func (s *Store) ListStations(ctx context.Context) ([]models.RelayStation, error) {
	if s == nil || s.db == nil {
		return []models.RelayStation{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.RelayStation
	if errFind := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("station store: list stations: %w", errFind)
	}
	return rows, nil
}

// GetStation returns the station with the given id, or nil when absent.
func (s *Store) GetStation(ctx context.Context, id string) (*models.RelayStation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var row models.RelayStation
	errFind := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("station store: get station: %w", errFind)
	}
	return &row, nil
}

// AddStation inserts a station. A missing id is generated; timestamps are
// assigned from the store clock.
func (s *Store) AddStation(ctx context.Context, row *models.RelayStation) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if row == nil {
		return fmt.Errorf("station store: nil station")
	}
	if strings.TrimSpace(row.ID) == "" {
		row.ID = uuid.NewString()
	}
	row.Adapter = string(models.ParseStationAdapter(row.Adapter))
	row.AuthMethod = string(models.ParseAuthMethod(row.AuthMethod))

	now := s.clock().Unix()
	if row.CreatedAt == 0 {
		row.CreatedAt = now
	}
	if row.UpdatedAt == 0 {
		row.UpdatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if errCreate := s.db.WithContext(ctx).Create(row).Error; errCreate != nil {
		return fmt.Errorf("station store: add station: %w", errCreate)
	}
	return nil
}

// StationPatch holds the mutable station columns for sparse updates. Nil
// fields are left untouched.
type StationPatch struct {
	Name        *string
	Description *string
	APIURL      *string
	SystemToken *string
	UserID      *string
	Enabled     *bool
}

func (p StationPatch) assignments() map[string]any {
	updates := map[string]any{}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.APIURL != nil {
		updates["api_url"] = *p.APIURL
	}
	if p.SystemToken != nil {
		updates["system_token"] = *p.SystemToken
	}
	if p.UserID != nil {
		updates["user_id"] = *p.UserID
	}
	if p.Enabled != nil {
		updates["enabled"] = *p.Enabled
	}
	return updates
}

// UpdateStation applies the patch to the station. The update timestamp is
// bumped even when the patch carries no fields.
func (s *Store) UpdateStation(ctx context.Context, id string, patch StationPatch) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("station store: empty station id")
	}

	updates := patch.assignments()
	updates["updated_at"] = s.clock().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.WithContext(ctx).Model(&models.RelayStation{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("station store: update station: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: station %s", ErrNotFound, id)
	}
	return nil
}

// DeleteStation removes the station and cascades to its tokens. The token
// delete runs in the same transaction so no orphan rows survive even on
// backends without foreign-key enforcement enabled.
func (s *Store) DeleteStation(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("station store: empty station id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errTokens := tx.Where("station_id = ?", id).Delete(&models.StationToken{}).Error; errTokens != nil {
			return fmt.Errorf("station store: delete station tokens: %w", errTokens)
		}
		if errStation := tx.Where("id = ?", id).Delete(&models.RelayStation{}).Error; errStation != nil {
			return fmt.Errorf("station store: delete station: %w", errStation)
		}
		return nil
	})
}

// ListTokens returns the tokens owned by a station, newest-created-first.
func (s *Store) ListTokens(ctx context.Context, stationID string) ([]models.StationToken, error) {
	if s == nil || s.db == nil {
		return []models.StationToken{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.StationToken
	if errFind := s.db.WithContext(ctx).
		Where("station_id = ?", stationID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("station store: list tokens: %w", errFind)
	}
	return rows, nil
}

// GetToken returns the token with the given id, or nil when absent.
func (s *Store) GetToken(ctx context.Context, id string) (*models.StationToken, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var row models.StationToken
	errFind := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("station store: get token: %w", errFind)
	}
	return &row, nil
}

// AddToken inserts a token owned by an existing station.
func (s *Store) AddToken(ctx context.Context, row *models.StationToken) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if row == nil {
		return fmt.Errorf("station store: nil token")
	}
	if strings.TrimSpace(row.StationID) == "" {
		return fmt.Errorf("station store: token missing station id")
	}
	if strings.TrimSpace(row.ID) == "" {
		row.ID = uuid.NewString()
	}
	if row.ExpiresAt != nil && *row.ExpiresAt < 0 {
		row.ExpiresAt = nil
	}
	if row.CreatedAt == 0 {
		row.CreatedAt = s.clock().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if errCreate := s.db.WithContext(ctx).Create(row).Error; errCreate != nil {
		return fmt.Errorf("station store: add token: %w", errCreate)
	}
	return nil
}

// TokenPatch holds the mutable token columns for sparse updates. Nil fields
// are left untouched.
type TokenPatch struct {
	Name    *string
	Token   *string
	UserID  *string
	Enabled *bool
}

func (p TokenPatch) assignments() map[string]any {
	updates := map[string]any{}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Token != nil {
		updates["token"] = *p.Token
	}
	if p.UserID != nil {
		updates["user_id"] = *p.UserID
	}
	if p.Enabled != nil {
		updates["enabled"] = *p.Enabled
	}
	return updates
}

// UpdateToken applies the patch to the token.
func (s *Store) UpdateToken(ctx context.Context, id string, patch TokenPatch) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	updates := patch.assignments()
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.WithContext(ctx).Model(&models.StationToken{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("station store: update token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: token %s", ErrNotFound, id)
	}
	return nil
}

// DeleteToken removes the token with the given id.
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if errDelete := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.StationToken{}).Error; errDelete != nil {
		return fmt.Errorf("station store: delete token: %w", errDelete)
	}
	return nil
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
