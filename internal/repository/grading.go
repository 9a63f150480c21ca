package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

type GradingRepository interface {
	// UpsertMany writes every reference keyed by RefKey in one transaction.
	UpsertMany(ctx context.Context, refs []entity.GradingReference) (int, error)
	List(ctx context.Context) ([]entity.GradingReference, error)
	// FindByTitle returns references whose issue title contains substr.
	FindByTitle(ctx context.Context, substr string) ([]entity.GradingReference, error)
}

type gradingRepo struct {
	db  *DB
	log *slog.Logger
}

func NewGradingRepository(db *DB, log *slog.Logger) GradingRepository {
	if log == nil {
		log = slog.Default()
	}
	return &gradingRepo{db: db, log: log}
}

var gradingColumns = []string{
	"id", "ref_key", "issue_title", "updated_grading", "resolution_window", "attributes", "updated_at",
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *gradingRepo) UpsertMany(ctx context.Context, refs []entity.GradingReference) (int, error) {
	cols := gradingColumns[1:]
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		now := time.Now().UTC()
		for _, ref := range refs {
			attrs, err := marshalMap(ref.Attributes)
			if err != nil {
				return err
			}
			q, args := r.db.builder().Insert(TableGradingReferences).
				Columns(cols...).
				Values(ref.RefKey, nullable(ref.IssueTitle), nullable(ref.UpdatedGrading),
					nullable(ref.ResolutionWindow), attrs, now).
				OnConflict(
					entsql.ConflictColumns("ref_key"),
					entsql.ResolveWithNewValues(),
				).
				Query()
			if _, err := exec(ctx, tx, q, args); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error("grading_reference upsert failed", "rows", len(refs), "error", err)
		return 0, err
	}
	r.log.Info("grading_reference upserted", "rows", len(refs))
	return len(refs), nil
}

func (r *gradingRepo) list(ctx context.Context, where *entsql.Predicate) ([]entity.GradingReference, error) {
	sel := r.db.builder().Select(gradingColumns...).
		From(entsql.Table(TableGradingReferences)).
		OrderBy("id")
	if where != nil {
		sel.Where(where)
	}
	q, args := sel.Query()

	var out []entity.GradingReference
	err := r.db.queryRows(ctx, q, args, func(rows *entsql.Rows) error {
		var (
			g                      entity.GradingReference
			title, grading, window sql.NullString
			attrs                  sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.RefKey, &title, &grading, &window, &attrs, &g.UpdatedAt); err != nil {
			return err
		}
		if title.Valid {
			g.IssueTitle = &title.String
		}
		if grading.Valid {
			g.UpdatedGrading = &grading.String
		}
		if window.Valid {
			g.ResolutionWindow = &window.String
		}
		m, err := unmarshalMap(attrs)
		if err != nil {
			return err
		}
		g.Attributes = m
		out = append(out, g)
		return nil
	})
	return out, err
}

func (r *gradingRepo) List(ctx context.Context) ([]entity.GradingReference, error) {
	return r.list(ctx, nil)
}

// FindByTitle narrows in SQL and re-checks in Go, since LIKE is case-insensitive on SQLite
// and case-sensitive on Postgres.
func (r *gradingRepo) FindByTitle(ctx context.Context, substr string) ([]entity.GradingReference, error) {
	rows, err := r.list(ctx, entsql.Contains("issue_title", substr))
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, g := range rows {
		if strings.Contains(g.Title(), substr) {
			out = append(out, g)
		}
	}
	return out, nil
}
