// Package history persists delivered chat messages to a local sqlite file.
// Persistence is best-effort: failures are reported to the caller to log,
// never retried, and never fatal to the node.
package history

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Entry struct {
	ID         uint `gorm:"primaryKey"`
	Topic      string
	Sender     string
	Body       string
	ReceivedAt int64
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open creates or opens the history database at path. ":memory:" is
// supported for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Append(topic, sender, body string) error {
	return s.db.Create(&Entry{
		Topic:      topic,
		Sender:     sender,
		Body:       body,
		ReceivedAt: s.now().Unix(),
	}).Error
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
