package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record is the SQL row behind a session.
type Record struct {
	UserID    string         `gorm:"primaryKey;size:128" json:"user_id"`
	State     string         `gorm:"size:64;not null" json:"state"`
	Details   datatypes.JSON `json:"details"`
	History   datatypes.JSON `json:"history"`
	Version   int            `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Record) TableName() string {
	return "recruit_sessions"
}

// GormStore persists sessions in Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) Load(ctx context.Context, userID string) (*Session, error) {
	var rec Record
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return New(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s := &Session{UserID: rec.UserID, State: State(rec.State), UpdatedAt: rec.UpdatedAt}
	var shapeErr error
	if len(rec.Details) > 0 {
		shapeErr = json.Unmarshal(rec.Details, &s.Details)
	}
	if shapeErr == nil && len(rec.History) > 0 {
		shapeErr = json.Unmarshal(rec.History, &s.History)
	}
	if shapeErr == nil {
		shapeErr = s.Validate()
	}
	if shapeErr != nil {
		fresh := New(userID)
		fresh.Version = rec.Version
		return fresh, fmt.Errorf("%w: %v", ErrMalformedSession, shapeErr)
	}
	if s.History == nil {
		s.History = []Turn{}
	}
	s.Version = rec.Version
	return s, nil
}

func (g *GormStore) Save(ctx context.Context, s *Session) error {
	details, err := json.Marshal(s.Details)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	history, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.Version == 0 {
			var count int64
			if err := tx.Model(&Record{}).Where("user_id = ?", s.UserID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrVersionConflict
			}
			return tx.Create(&Record{
				UserID:  s.UserID,
				State:   string(s.State),
				Details: datatypes.JSON(details),
				History: datatypes.JSON(history),
				Version: 1,
			}).Error
		}

		res := tx.Model(&Record{}).
			Where("user_id = ? AND version = ?", s.UserID, s.Version).
			Updates(map[string]interface{}{
				"state":      string(s.State),
				"details":    datatypes.JSON(details),
				"history":    datatypes.JSON(history),
				"version":    s.Version + 1,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})

	switch {
	case err == nil:
		s.Version++
		return nil
	case errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
