package postgres

import (
	"context"
	"time"

	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
)

const userColumns = `id, username, name, email, area, city, state, country, pincode, created_on`

type userRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (username, name, email, area, city, state, country, pincode, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if u.CreatedOn.IsZero() {
		u.CreatedOn = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, query, u.Username, u.Name, u.Email, u.Area, u.City, u.State, u.Country, u.Pincode, u.CreatedOn).Scan(&u.ID)
	return mapError(err)
}

func (r *userRepository) GetByID(ctx context.Context, id int32) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.get(ctx, query, username)
}

func (r *userRepository) get(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Area, &u.City, &u.State, &u.Country, &u.Pincode, &u.CreatedOn)
	if err != nil {
		return nil, mapError(err)
	}
	if err := r.loadIndexes(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepository) loadIndexes(ctx context.Context, u *domain.User) error {
	query := `SELECT kind, ref_id FROM user_index WHERE user_id = $1 ORDER BY kind, ref_id`
	rows, err := r.db.QueryContext(ctx, query, u.ID)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  domain.IndexKind
			refID int32
		)
		if err := rows.Scan(&kind, &refID); err != nil {
			return err
		}
		if set := u.IndexSet(kind); set != nil {
			*set = append(*set, refID)
		} else {
			logger.Warn("Unknown user index kind", "userID", u.ID, "kind", kind)
		}
	}
	return rows.Err()
}

func (r *userRepository) Update(ctx context.Context, u *domain.User) error {
	query := `UPDATE users SET name=$1, email=$2, area=$3, city=$4, state=$5, country=$6, pincode=$7 WHERE id=$8`
	res, err := r.db.ExecContext(ctx, query, u.Name, u.Email, u.Area, u.City, u.State, u.Country, u.Pincode, u.ID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddToIndex is idempotent: inserting an existing member is a no-op.
func (r *userRepository) AddToIndex(ctx context.Context, userID int32, kind domain.IndexKind, id int32) error {
	query := `INSERT INTO user_index (user_id, kind, ref_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	logger.DatabaseCall("INSERT", "user_index", "userID", userID, "kind", kind, "refID", id)
	res, err := r.db.ExecContext(ctx, query, userID, kind, id)
	if err != nil {
		logger.DatabaseResult("INSERT", 0, err)
		return mapError(err)
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("INSERT", n, nil)
	return nil
}

// RemoveFromIndex is idempotent: removing an absent member is a no-op.
func (r *userRepository) RemoveFromIndex(ctx context.Context, userID int32, kind domain.IndexKind, id int32) error {
	query := `DELETE FROM user_index WHERE user_id = $1 AND kind = $2 AND ref_id = $3`
	logger.DatabaseCall("DELETE", "user_index", "userID", userID, "kind", kind, "refID", id)
	res, err := r.db.ExecContext(ctx, query, userID, kind, id)
	if err != nil {
		logger.DatabaseResult("DELETE", 0, err)
		return mapError(err)
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("DELETE", n, nil)
	return nil
}
