package pg_member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

type MemberRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

func (r *MemberRepo) GetMemberById(ctx context.Context, id string) (*domain.Member, error) {
	m := &domain.Member{}
	query := "SELECT id, client_id, name, surname, email FROM members WHERE id = $1"
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.ClientID, &m.Name, &m.Surname, &m.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MemberRepo) ListMembersByIds(ctx context.Context, ids []string) ([]domain.Member, error) {
	query := "SELECT id, client_id, name, surname, email FROM members WHERE id = ANY($1)"
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error executing ListMembersByIds query: %w", err)
	}
	defer rows.Close()

	members := make([]domain.Member, 0, len(ids))
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.ClientID, &m.Name, &m.Surname, &m.Email); err != nil {
			return nil, fmt.Errorf("error scanning member row: %w", err)
		}
		members = append(members, m)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows iteration error in ListMembersByIds: %w", rows.Err())
	}
	return members, nil
}
