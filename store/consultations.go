package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/junyiz/lawkb/category"
)

// Consultation statuses. A record starts pending and moves exactly once
// to completed or failed.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Consultation represents a row in the consultation log.
type Consultation struct {
	ID                   int64             `json:"id"`
	UserID               string            `json:"user_id,omitempty"`
	Question             string            `json:"question"`
	Context              string            `json:"context,omitempty"`
	Category             category.Category `json:"category,omitempty"`
	ClassifierCategory   category.Category `json:"classifier_category,omitempty"`
	ClassifierConfidence float64           `json:"classifier_confidence"`
	Answer               string            `json:"answer,omitempty"`
	Confidence           *float64          `json:"confidence,omitempty"`
	Sources              []int64           `json:"sources"`
	Status               string            `json:"status"`
	Error                string            `json:"error,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

// InsertConsultation records a new pending consultation and returns its id.
func (s *Store) InsertConsultation(ctx context.Context, c Consultation) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consultations (user_id, question, context, category, status, sources, created_at)
		VALUES (?, ?, ?, ?, ?, '[]', ?)
	`, c.UserID, c.Question, c.Context, string(c.Category), StatusPending, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("inserting consultation: %w", err)
	}
	return res.LastInsertId()
}

// CompleteConsultation moves a pending consultation to completed with
// its outcome. Records already in a terminal status yield ErrConflict.
func (s *Store) CompleteConsultation(ctx context.Context, id int64, out ConsultationOutcome) error {
	src, err := json.Marshal(out.Sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}
	if out.Sources == nil {
		src = []byte("[]")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE consultations
		SET status = ?, category = ?, classifier_category = ?, classifier_confidence = ?,
		    answer = ?, confidence = ?, sources = ?
		WHERE id = ? AND status = ?
	`, StatusCompleted, string(out.Category), string(out.ClassifierCategory),
		out.ClassifierConfidence, out.Answer, out.Confidence, string(src),
		id, StatusPending)
	if err != nil {
		return fmt.Errorf("completing consultation: %w", err)
	}
	return s.checkTransition(ctx, id, res)
}

// FailConsultation moves a pending consultation to failed with a reason.
func (s *Store) FailConsultation(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consultations SET status = ?, error = ? WHERE id = ? AND status = ?
	`, StatusFailed, reason, id, StatusPending)
	if err != nil {
		return fmt.Errorf("failing consultation: %w", err)
	}
	return s.checkTransition(ctx, id, res)
}

// ConsultationOutcome is the terminal payload of a successful consultation.
type ConsultationOutcome struct {
	Category             category.Category
	ClassifierCategory   category.Category
	ClassifierConfidence float64
	Answer               string
	Confidence           float64
	Sources              []int64
}

func (s *Store) checkTransition(ctx context.Context, id int64, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM consultations WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: consultation %d", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: consultation %d is already %s", ErrConflict, id, status)
}

// GetConsultation retrieves a consultation by id.
func (s *Store) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, question, context, category, classifier_category,
		       classifier_confidence, answer, confidence, sources, status, error, created_at
		FROM consultations WHERE id = ?
	`, id)
	c, err := scanConsultation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: consultation %d", ErrNotFound, id)
	}
	return c, err
}

// ListConsultations returns consultations newest first, optionally
// restricted to one user, with skip/limit pagination.
func (s *Store) ListConsultations(ctx context.Context, userID string, skip, limit int) ([]Consultation, error) {
	if skip < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: skip and limit must be non-negative", ErrValidation)
	}
	if limit == 0 || limit > 100 {
		limit = 100
	}

	q := `
		SELECT id, user_id, question, context, category, classifier_category,
		       classifier_confidence, answer, confidence, sources, status, error, created_at
		FROM consultations`
	args := []any{}
	if userID != "" {
		q += " WHERE user_id = ?"
		args = append(args, userID)
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, skip)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing consultations: %w", err)
	}
	defer rows.Close()

	var out []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanConsultation(row rowScanner) (*Consultation, error) {
	var (
		c                             Consultation
		userID, qctx, cat, ccat       sql.NullString
		answer, errMsg                sql.NullString
		classifierConf, conf          sql.NullFloat64
		sources, createdAt            string
	)
	err := row.Scan(&c.ID, &userID, &c.Question, &qctx, &cat, &ccat,
		&classifierConf, &answer, &conf, &sources, &c.Status, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}
	c.UserID = userID.String
	c.Context = qctx.String
	c.Category = category.Category(cat.String)
	c.ClassifierCategory = category.Category(ccat.String)
	c.ClassifierConfidence = classifierConf.Float64
	c.Answer = answer.String
	if conf.Valid {
		c.Confidence = &conf.Float64
	}
	c.Error = errMsg.String
	c.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
		return nil, fmt.Errorf("decoding sources for consultation %d: %w", c.ID, err)
	}
	if c.Sources == nil {
		c.Sources = []int64{}
	}
	return &c, nil
}
