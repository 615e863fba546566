package models

import (
	"context"
	"errors"
	"time"

	"github.com/adrata/crm_backend/config"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DiscoveryJobRecord tracks one queued discovery job. MessageId gives
// at-least-once Pub/Sub delivery a durable dedupe key.
type DiscoveryJobRecord struct {
	ID          int                `gorm:"primary_key" json:"id"`
	CompanyKey  string             `gorm:"index;size:191;not null" json:"company_key"`
	MessageId   string             `gorm:"uniqueIndex;size:100;not null" json:"message_id"`
	Status      DiscoveryJobStatus `gorm:"size:20;not null;default:'Queued'" json:"status"`
	GroupId     string             `gorm:"size:36" json:"group_id"`
	Attempts    int                `gorm:"default:0" json:"attempts"`
	LastError   string             `gorm:"type:text" json:"last_error"`
	CompletedAt *time.Time         `json:"completed_at"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClaimDiscoveryJob records a delivery attempt. Returns (nil, nil) when the
// message was already processed to completion (duplicate delivery).
func ClaimDiscoveryJob(ctx context.Context, companyKey, messageId string) (*DiscoveryJobRecord, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var record DiscoveryJobRecord
	err := db.WithContext(ctx).Where("message_id = ?", messageId).Take(&record).Error
	if err == nil {
		if record.Status == DiscoveryJobStatusCompleted {
			return nil, nil
		}
		if err := db.WithContext(ctx).Model(&record).Updates(map[string]interface{}{
			"status":   DiscoveryJobStatusRunning,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			return nil, err
		}
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	record = DiscoveryJobRecord{
		CompanyKey: companyKey,
		MessageId:  messageId,
		Status:     DiscoveryJobStatusRunning,
		Attempts:   1,
	}
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicateKeyErr(err) {
			// Lost the race against a concurrent delivery of the same message;
			// let the winner process it.
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func (r *DiscoveryJobRecord) MarkCompleted(ctx context.Context, groupId string) error {
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(r).Updates(map[string]interface{}{
		"status":       DiscoveryJobStatusCompleted,
		"group_id":     groupId,
		"last_error":   "",
		"completed_at": &now,
	}).Error
}

func (r *DiscoveryJobRecord) MarkFailed(ctx context.Context, cause error) error {
	db := config.GetDB()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return db.WithContext(ctx).Model(r).Updates(map[string]interface{}{
		"status":     DiscoveryJobStatusFailed,
		"last_error": msg,
	}).Error
}
