// Package feedback stores answer evaluations in a local SQLite database and
// summarizes them for the dashboard.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Accuracy labels and their scores.
const (
	LabelCorrect   = "正確"
	LabelPartial   = "部分的に正確"
	LabelIncorrect = "不正確"
)

// DefaultPageSize is the history page length.
const DefaultPageSize = 5

// ErrInvalidLabel is returned for a rating outside the three labels.
var ErrInvalidLabel = errors.New("feedback: rating must be 正確, 部分的に正確 or 不正確")

var labelScores = map[string]float64{
	LabelCorrect:   1.0,
	LabelPartial:   0.5,
	LabelIncorrect: 0.0,
}

// Score returns the is_correct value for label.
func Score(label string) (float64, bool) {
	s, ok := labelScores[label]
	return s, ok
}

// Label returns the accuracy label for score, or "" if it is not one of
// 1.0, 0.5 and 0.0.
func Label(score float64) string {
	for l, s := range labelScores {
		if s == score {
			return l
		}
	}
	return ""
}

// Record is one evaluated question/answer pair.
type Record struct {
	ID            string    `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"timestamp"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Feedback      string    `json:"feedback"`
	CorrectAnswer string    `json:"correct_answer"`
	IsCorrect     *float64  `gorm:"index" json:"is_correct"`
	ResponseTime  float64   `json:"response_time"`
	WordCount     int       `json:"word_count"`
}

func (Record) TableName() string { return "chat_history" }

// Input is a new evaluation as submitted by a user.
type Input struct {
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	Rating        string  `json:"rating"` // one of the labels, or "" for unrated
	Comment       string  `json:"comment"`
	CorrectAnswer string  `json:"correct_answer"`
	ResponseTime  float64 `json:"response_time"`
}

// Store is the feedback database.
type Store struct {
	db       *gorm.DB
	pageSize int
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string, pageSize int) (*Store, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("feedback: create db directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("feedback: migrate: %w", err)
	}
	return &Store{db: db, pageSize: pageSize}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PageSize is the configured history page length.
func (s *Store) PageSize() int { return s.pageSize }

// Save validates in and stores it. The feedback text is the label, followed
// by ": comment" when a comment was given.
func (s *Store) Save(ctx context.Context, in Input) (*Record, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, errors.New("feedback: question is required")
	}
	if in.ResponseTime < 0 {
		return nil, errors.New("feedback: response_time must not be negative")
	}
	rec := &Record{
		ID:            uuid.NewString(),
		Question:      in.Question,
		Answer:        in.Answer,
		CorrectAnswer: in.CorrectAnswer,
		ResponseTime:  in.ResponseTime,
		WordCount:     len(strings.Fields(in.Answer)),
	}
	if in.Rating != "" {
		score, ok := Score(in.Rating)
		if !ok {
			return nil, ErrInvalidLabel
		}
		rec.IsCorrect = &score
		rec.Feedback = in.Rating
	}
	if c := strings.TrimSpace(in.Comment); c != "" {
		if rec.Feedback == "" {
			rec.Feedback = c
		} else {
			rec.Feedback += ": " + c
		}
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("feedback: save: %w", err)
	}
	return rec, nil
}

// Filter narrows List. A nil Accuracy lists everything.
type Filter struct {
	Accuracy *float64
}

// Page selects a page, numbered from 1. Size 0 uses the store page size.
type Page struct {
	Number int
	Size   int
}

// PageResult is one page of history, newest first.
type PageResult struct {
	Records []Record `json:"records"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Pages   int      `json:"pages"`
	Size    int      `json:"size"`
}

// List returns one page of records matching f. Page numbers beyond the last
// page are clamped to it.
func (s *Store) List(ctx context.Context, f Filter, p Page) (*PageResult, error) {
	size := p.Size
	if size <= 0 {
		size = s.pageSize
	}
	q := s.db.WithContext(ctx).Model(&Record{})
	if f.Accuracy != nil {
		q = q.Where("is_correct IS NOT NULL AND is_correct = ?", *f.Accuracy)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("feedback: count: %w", err)
	}
	pages := int((total + int64(size) - 1) / int64(size))
	num := p.Number
	if num < 1 {
		num = 1
	}
	if pages > 0 && num > pages {
		num = pages
	}

	res := &PageResult{Total: total, Page: num, Pages: pages, Size: size}
	if total == 0 {
		res.Records = []Record{}
		return res, nil
	}
	if err := q.Order("created_at DESC").Limit(size).Offset((num - 1) * size).Find(&res.Records).Error; err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	return res, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("feedback: count: %w", err)
	}
	return n, nil
}

// Clear deletes every record and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("feedback: clear: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) evaluated(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := s.db.WithContext(ctx).Where("is_correct IS NOT NULL").Order("created_at ASC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("feedback: load: %w", err)
	}
	return recs, nil
}
