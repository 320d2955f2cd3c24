package contacts

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetContact(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := s.db.GetContext(ctx, &c, `SELECT id, account_id, name, phone_number, created_at, updated_at
FROM contacts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	return c, err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (Agent, error) {
	var a Agent
	err := s.db.GetContext(ctx, &a, `SELECT id, account_id, name, disabled, default_message, voice, language, created_at, updated_at
FROM agents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrAgentNotFound
	}
	return a, err
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c Contact) error {
	phone, err := NormalizePhone(c.PhoneNumber)
	if err != nil {
		return err
	}
	c.PhoneNumber = phone
	_, err = s.db.NamedExecContext(ctx, `
INSERT INTO contacts (id, account_id, name, phone_number, created_at, updated_at)
VALUES (:id, :account_id, :name, :phone_number, now(), now())
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone_number = EXCLUDED.phone_number, updated_at = now()`, c)
	return err
}

func (s *PostgresStore) UpsertAgent(ctx context.Context, a Agent) error {
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO agents (id, account_id, name, disabled, default_message, voice, language, created_at, updated_at)
VALUES (:id, :account_id, :name, :disabled, :default_message, :voice, :language, now(), now())
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, disabled = EXCLUDED.disabled,
	default_message = EXCLUDED.default_message, voice = EXCLUDED.voice, language = EXCLUDED.language, updated_at = now()`, a)
	return err
}
