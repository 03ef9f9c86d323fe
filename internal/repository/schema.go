package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL replica las tablas que expone Hasura para el backend postgres.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS chats (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chats_user_updated_idx ON chats (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	chat_id    UUID NOT NULL REFERENCES chats (id),
	user_id    TEXT,
	content    TEXT NOT NULL,
	is_bot     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_chat_created_idx ON messages (chat_id, created_at);
`

// EnsureSchema crea las tablas si no existen.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
