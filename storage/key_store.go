// Package storage is the keyed repository for credentials and their
// daily usage counters. Single-row writes are atomic at the sqlite
// level; no application lock is needed here.
package storage

import (
	"time"

	"github.com/mmvpn/warden/database"
	"github.com/mmvpn/warden/database/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DayFormat is the calendar-day key of DailyUsage rows.
const DayFormat = "2006-01-02"

// Day renders t as a DailyUsage date key.
func Day(t time.Time) string {
	return t.Format(DayFormat)
}

type KeyStore struct{}

func (s *KeyStore) CreateKey(key *model.Key) error {
	return database.GetDB().Create(key).Error
}

func (s *KeyStore) GetKey(id string) (*model.Key, error) {
	db := database.GetDB()
	key := &model.Key{}
	err := db.First(key, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *KeyStore) GetActiveKeys() ([]model.Key, error) {
	db := database.GetDB()
	var keys []model.Key
	err := db.Where("enable = ?", true).Find(&keys).Error
	return keys, err
}

func (s *KeyStore) GetActiveKeyCount(tgId int64) (int64, error) {
	db := database.GetDB()
	var count int64
	err := db.Model(&model.Key{}).Where("tg_id = ? and enable = ?", tgId, true).Count(&count).Error
	return count, err
}

// AddUsage adds bytes to the key's counter for the given day, creating
// the row on first use. The increment happens in the database so
// concurrent writers cannot lose updates.
func (s *KeyStore) AddUsage(id string, bytes int64, day string) error {
	db := database.GetDB()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"bytes": gorm.Expr("bytes + ?", bytes),
		}),
	}).Create(&model.DailyUsage{
		KeyId: id,
		Date:  day,
		Bytes: bytes,
	}).Error
}

// GetDailyUsage returns the key's byte count for the given day. A key
// that produced no traffic that day has no row and reads as zero.
func (s *KeyStore) GetDailyUsage(id string, day string) (int64, error) {
	db := database.GetDB()
	var usage model.DailyUsage
	err := db.Where("key_id = ? and date = ?", id, day).First(&usage).Error
	if database.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return usage.Bytes, nil
}

// MarkWarningSent records a notification marker for the key's current
// quota period. Recording an already-present marker is a no-op.
func (s *KeyStore) MarkWarningSent(id string, marker string) error {
	key, err := s.GetKey(id)
	if err != nil {
		return err
	}
	if !key.AddMarker(marker) {
		return nil
	}
	return database.GetDB().Model(&model.Key{}).Where("id = ?", id).
		Update("warnings_sent", key.WarningsSent).Error
}

func (s *KeyStore) StartGrace(id string, at time.Time) error {
	return database.GetDB().Model(&model.Key{}).Where("id = ?", id).
		Update("grace_start", at).Error
}

// Expire deactivates a key and records why. Terminal for the
// enforcement engine; reactivation clears these fields externally.
func (s *KeyStore) Expire(id string, reason string, at time.Time) error {
	return database.GetDB().Model(&model.Key{}).Where("id = ?", id).
		Updates(map[string]any{
			"enable":        false,
			"expiry_reason": reason,
			"expired_at":    at,
		}).Error
}

func (s *KeyStore) Deactivate(id string) error {
	return database.GetDB().Model(&model.Key{}).Where("id = ?", id).
		Update("enable", false).Error
}
