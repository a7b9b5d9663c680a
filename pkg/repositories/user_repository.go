package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

const usersTable = "users"

var userColumnList = []string{
	"id", "email", "name", "phone", "role", "status", "role_assigned", "created_at", "updated_at",
}

var userColumns = strings.Join(userColumnList, ", ")

type UserRepository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewUserRepository(db database.DB, logger ectologger.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the user or refreshes profile fields of an existing one.
// An empty name or email never overwrites a stored value, and a role pinned
// by an admin survives whatever the identity provider claims.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.Upsert")
	defer span.End()

	query := `
		INSERT INTO users (id, email, name, phone, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			phone = COALESCE(EXCLUDED.phone, users.phone),
			role = CASE WHEN users.role_assigned THEN users.role ELSE EXCLUDED.role END,
			updated_at = NOW()
		RETURNING ` + userColumns

	var saved models.User
	if err := database.Conn(ctx, r.db).GetContext(ctx, &saved, query, user.ID, user.Email, user.Name, user.Phone, user.Role); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", user.ID).Error("failed to upsert user")
		return nil, errors.Wrap(err, "failed to upsert user")
	}
	return &saved, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.GetByID")
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user models.User
	if err := database.Conn(ctx, r.db).GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("user %s not found", id)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to get user")
		return nil, errors.Wrap(err, "failed to get user")
	}
	return &user, nil
}

func applyUserFilter(sb *database.SelectBuilder, filter models.UserFilter) {
	if filter.Role != nil {
		sb.Where(sb.Equal("role", *filter.Role))
	}
	if filter.Status != nil {
		sb.Where(sb.Equal("status", *filter.Status))
	}
}

func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.List")
	defer span.End()

	filter = filter.Normalize()
	conn := database.Conn(ctx, r.db)

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(usersTable)
	applyUserFilter(countSb, filter)
	countQuery, countArgs := countSb.Build()

	var total int
	if err := conn.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count users")
		return nil, 0, errors.Wrap(err, "failed to count users")
	}

	sb := database.NewSelectBuilder()
	sb.Select(userColumnList...)
	sb.From(usersTable)
	applyUserFilter(sb, filter)
	sb.OrderBy("created_at").Desc()
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset())
	query, args := sb.Build()

	users := []models.User{}
	if err := conn.SelectContext(ctx, &users, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to list users")
		return nil, 0, errors.Wrap(err, "failed to list users")
	}
	return users, total, nil
}

func (r *UserRepository) SetRole(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.SetRole")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(usersTable)
	ub.Set(
		ub.Assign("role", role),
		ub.Assign("role_assigned", true),
		ub.Assign("updated_at", at),
	)
	ub.Where(ub.Equal("id", id))
	ub.Returning(userColumnList...)

	return r.update(ctx, "set role of", id, ub)
}

func (r *UserRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.UserStatus, at time.Time) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.SetStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(usersTable)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("updated_at", at),
	)
	ub.Where(ub.Equal("id", id))
	ub.Returning(userColumnList...)

	return r.update(ctx, "set status of", id, ub)
}

func (r *UserRepository) update(ctx context.Context, op string, id uuid.UUID, ub *database.UpdateBuilder) (*models.User, error) {
	query, args := ub.Build()

	var user models.User
	if err := database.Conn(ctx, r.db).GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("user %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", id).Errorf("failed to %s user", op)
		return nil, errors.Wrapf(err, "failed to %s user", op)
	}
	return &user, nil
}

func (r *UserRepository) Counts(ctx context.Context, since time.Time) (models.UserCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.Counts")
	defer span.End()

	var counts models.UserCounts
	rows, err := countGroups(ctx, r.db, usersTable, "role", nil)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count users by role")
		return counts, errors.Wrap(err, "failed to count users by role")
	}
	for _, row := range rows {
		counts.Add(models.Role(row.Key), row.Count)
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1) AS blocked,
			COUNT(*) FILTER (WHERE created_at >= $2) AS recent
		FROM users`

	var tally struct {
		Blocked int `db:"blocked"`
		Recent  int `db:"recent"`
	}
	if err := database.Conn(ctx, r.db).GetContext(ctx, &tally, query, models.UserBlocked, since); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count users")
		return counts, errors.Wrap(err, "failed to count users")
	}
	counts.Blocked = tally.Blocked
	counts.RecentSignups = tally.Recent
	return counts, nil
}
