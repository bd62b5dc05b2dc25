package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yonatanbiwix/simon-game-app/internal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists rooms so they survive a process restart.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, room *internal.Room) error {
	game, err := internal.MarshalGameState(room.Game)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		createdAt := room.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO rooms(code, status, game, created_at) VALUES($1, $2, $3, $4)`,
			room.Code, string(room.Status), game, createdAt)
		if err != nil {
			if pgCode(err) == pgUniqueViolation {
				return fmt.Errorf("%w: %s", ErrRoomExists, room.Code)
			}
			return err
		}
		for _, p := range room.Players {
			if err := insertPlayer(ctx, tx, room.Code, p); err != nil {
				return err
			}
		}
		return refreshEmptySince(ctx, tx, room.Code)
	})
}

func (s *PostgresStore) Get(ctx context.Context, code string) (*internal.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx,
		`SELECT code, status, game, created_at, empty_since FROM rooms WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
		}
		return nil, wrapUnexpected(err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, connected, is_host, joined_at FROM room_players WHERE room_code = $1 ORDER BY seat`, code)
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	defer rows.Close()
	for rows.Next() {
		p := &internal.Player{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Connected, &p.IsHost, &p.JoinedAt); err != nil {
			return nil, wrapUnexpected(err)
		}
		room.Players = append(room.Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnexpected(err)
	}
	return room, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*internal.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, status, game, created_at, empty_since FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	var rooms []*internal.Room
	byCode := make(map[string]*internal.Room)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, wrapUnexpected(err)
		}
		rooms = append(rooms, room)
		byCode[room.Code] = room
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapUnexpected(err)
	}

	players, err := s.pool.Query(ctx,
		`SELECT room_code, id, name, connected, is_host, joined_at FROM room_players ORDER BY room_code, seat`)
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	defer players.Close()
	for players.Next() {
		var code string
		p := &internal.Player{}
		if err := players.Scan(&code, &p.ID, &p.Name, &p.Connected, &p.IsHost, &p.JoinedAt); err != nil {
			return nil, wrapUnexpected(err)
		}
		// rooms created between the two queries are skipped
		if room, ok := byCode[code]; ok {
			room.Players = append(room.Players, p)
		}
	}
	if err := players.Err(); err != nil {
		return nil, wrapUnexpected(err)
	}
	return rooms, nil
}

func (s *PostgresStore) AddPlayer(ctx context.Context, code string, player *internal.Player) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertPlayer(ctx, tx, code, player); err != nil {
			switch pgCode(err) {
			case pgForeignKeyViolation:
				return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
			case pgUniqueViolation:
				return fmt.Errorf("%w: %s", ErrPlayerExists, player.ID)
			}
			return err
		}
		return refreshEmptySince(ctx, tx, code)
	})
}

func (s *PostgresStore) RemovePlayer(ctx context.Context, code, playerID string) (RemovalResult, error) {
	var res RemovalResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		removed := &internal.Player{}
		err := tx.QueryRow(ctx,
			`DELETE FROM room_players WHERE room_code = $1 AND id = $2
			 RETURNING id, name, connected, is_host, joined_at`, code, playerID).
			Scan(&removed.ID, &removed.Name, &removed.Connected, &removed.IsHost, &removed.JoinedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			if exists, err := roomExists(ctx, tx, code); err != nil {
				return err
			} else if !exists {
				return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
			}
			return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
		}
		if err != nil {
			return err
		}
		res.Player = removed

		if removed.IsHost {
			host := &internal.Player{}
			err := tx.QueryRow(ctx,
				`UPDATE room_players SET is_host = true
				 WHERE room_code = $1 AND id = (
				     SELECT id FROM room_players WHERE room_code = $1 ORDER BY seat LIMIT 1)
				 RETURNING id, name, connected, is_host, joined_at`, code).
				Scan(&host.ID, &host.Name, &host.Connected, &host.IsHost, &host.JoinedAt)
			switch {
			case err == nil:
				res.NewHost = host
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
		}

		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM room_players WHERE room_code = $1`, code).Scan(&res.Remaining); err != nil {
			return err
		}
		return refreshEmptySince(ctx, tx, code)
	})
	if err != nil {
		return RemovalResult{}, err
	}
	return res, nil
}

func (s *PostgresStore) SetConnected(ctx context.Context, code, playerID string, connected bool) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE room_players SET connected = $3 WHERE room_code = $1 AND id = $2`,
			code, playerID, connected)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if exists, err := roomExists(ctx, tx, code); err != nil {
				return err
			} else if !exists {
				return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
			}
			return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
		}
		return refreshEmptySince(ctx, tx, code)
	})
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, code string, from, to internal.RoomStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = $3 WHERE code = $1 AND status = $2`, code, string(from), string(to))
	if err != nil {
		return wrapUnexpected(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	exists, err := roomExists(ctx, s.pool, code)
	if err != nil {
		return wrapUnexpected(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return fmt.Errorf("%w: %s is not %s", ErrStatusConflict, code, from)
}

func (s *PostgresStore) SaveGame(ctx context.Context, code string, game internal.GameState) error {
	data, err := internal.MarshalGameState(game)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE rooms SET game = $2 WHERE code = $1`, code, data)
	if err != nil {
		return wrapUnexpected(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE code = $1`, code)
	if err != nil {
		return wrapUnexpected(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return nil
}

func (s *PostgresStore) IdleRooms(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code FROM rooms WHERE empty_since IS NOT NULL AND empty_since < $1 ORDER BY code`, cutoff)
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	return codes, nil
}

func (s *PostgresStore) ResetConnections(ctx context.Context) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE room_players SET connected = false WHERE connected`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE rooms SET empty_since = now() WHERE empty_since IS NULL`)
		return err
	})
}

// ====================================================================================
// helpers
// ====================================================================================

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, fn)
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrRoomNotFound, ErrRoomExists, ErrPlayerNotFound, ErrPlayerExists, ErrStatusConflict} {
		if errors.Is(err, known) {
			return err
		}
	}
	return wrapUnexpected(err)
}

func insertPlayer(ctx context.Context, tx pgx.Tx, code string, p *internal.Player) error {
	joinedAt := p.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO room_players(room_code, id, name, connected, is_host, joined_at) VALUES($1, $2, $3, $4, $5, $6)`,
		code, p.ID, p.Name, p.Connected, p.IsHost, joinedAt)
	return err
}

func refreshEmptySince(ctx context.Context, tx pgx.Tx, code string) error {
	_, err := tx.Exec(ctx, `
		UPDATE rooms SET empty_since = CASE
			WHEN EXISTS (SELECT 1 FROM room_players WHERE room_code = $1 AND connected) THEN NULL
			ELSE COALESCE(empty_since, now())
		END
		WHERE code = $1`, code)
	return err
}

func roomExists(ctx context.Context, q querier, code string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func scanRoom(row pgx.Row) (*internal.Room, error) {
	room := &internal.Room{}
	var status string
	var game []byte
	if err := row.Scan(&room.Code, &status, &game, &room.CreatedAt, &room.EmptySince); err != nil {
		return nil, err
	}
	room.Status = internal.RoomStatus(status)
	gs, err := internal.UnmarshalGameState(game)
	if err != nil {
		return nil, err
	}
	room.Game = gs
	return room, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func wrapUnexpected(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnexpected, err)
}
