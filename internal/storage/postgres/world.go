package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twentytwenty/mud/internal/game/world"
)

// WorldRepository implements world.Store on the rooms, room_exits and
// players tables.
type WorldRepository struct {
	db *pgxpool.Pool
}

var _ world.Store = (*WorldRepository)(nil)

// NewWorldRepository creates a WorldRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewWorldRepository(db *pgxpool.Pool) *WorldRepository {
	return &WorldRepository{db: db}
}

// Player returns the player bound to identity.
//
// Postcondition: Returns the Player or an error wrapping world.ErrPlayerNotFound.
func (r *WorldRepository) Player(ctx context.Context, identity string) (world.Player, error) {
	var p world.Player
	err := r.db.QueryRow(ctx,
		`SELECT p.identity, p.name, rm.name
		 FROM players p JOIN rooms rm ON rm.id = p.room_id
		 WHERE p.identity = $1`,
		identity,
	).Scan(&p.Identity, &p.Name, &p.Room)
	if errors.Is(err, pgx.ErrNoRows) {
		return world.Player{}, fmt.Errorf("identity %q: %w", identity, world.ErrPlayerNotFound)
	}
	if err != nil {
		return world.Player{}, fmt.Errorf("querying player: %w", err)
	}
	return p, nil
}

// Room returns the named room with its exits in declaration order and the
// players in it in roster order, omitting the player named exclude.
//
// Postcondition: Returns the RoomView or an error wrapping world.ErrRoomNotFound.
func (r *WorldRepository) Room(ctx context.Context, name, exclude string) (world.RoomView, error) {
	var (
		id   int64
		view world.RoomView
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description FROM rooms WHERE name = $1`,
		name,
	).Scan(&id, &view.Name, &view.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return world.RoomView{}, fmt.Errorf("room %q: %w", name, world.ErrRoomNotFound)
	}
	if err != nil {
		return world.RoomView{}, fmt.Errorf("querying room: %w", err)
	}

	exits, err := r.db.Query(ctx,
		`SELECT dest.name
		 FROM room_exits e JOIN rooms dest ON dest.id = e.to_room
		 WHERE e.from_room = $1
		 ORDER BY e.position, dest.name`,
		id,
	)
	if err != nil {
		return world.RoomView{}, fmt.Errorf("querying exits: %w", err)
	}
	view.Exits, err = pgx.CollectRows(exits, pgx.RowTo[string])
	if err != nil {
		return world.RoomView{}, fmt.Errorf("scanning exits: %w", err)
	}

	occupants, err := r.db.Query(ctx,
		`SELECT name FROM players WHERE room_id = $1 AND name <> $2 ORDER BY id`,
		id, exclude,
	)
	if err != nil {
		return world.RoomView{}, fmt.Errorf("querying occupants: %w", err)
	}
	names, err := pgx.CollectRows(occupants, pgx.RowTo[string])
	if err != nil {
		return world.RoomView{}, fmt.Errorf("scanning occupants: %w", err)
	}
	if len(names) > 0 {
		view.Occupants = names
	}
	return view, nil
}

// MovePlayer moves the player through the exit of its current room whose
// name matches target case-insensitively. The match and the reassignment are
// a single UPDATE, so a concurrent move of the same player cannot observe a
// half-applied state.
//
// Postcondition: Returns the updated Player, or an error wrapping
// world.ErrNoSuchExit (nothing changed) or world.ErrPlayerNotFound.
func (r *WorldRepository) MovePlayer(ctx context.Context, identity, target string) (world.Player, error) {
	target = strings.TrimSpace(target)

	var moved world.Player
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE players p
			 SET room_id = dest.id
			 FROM room_exits e
			 JOIN rooms dest ON dest.id = e.to_room
			 WHERE p.identity = $1
			   AND e.from_room = p.room_id
			   AND lower(dest.name) = lower($2)
			 RETURNING p.identity, p.name, dest.name`,
			identity, target,
		).Scan(&moved.Identity, &moved.Name, &moved.Room)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var from string
		err = tx.QueryRow(ctx,
			`SELECT rm.name FROM players p JOIN rooms rm ON rm.id = p.room_id WHERE p.identity = $1`,
			identity,
		).Scan(&from)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("identity %q: %w", identity, world.ErrPlayerNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%q from %q: %w", target, from, world.ErrNoSuchExit)
	})
	if err != nil {
		if errors.Is(err, world.ErrNoSuchExit) || errors.Is(err, world.ErrPlayerNotFound) {
			return world.Player{}, err
		}
		return world.Player{}, fmt.Errorf("moving player: %w", err)
	}
	return moved, nil
}

// CreatePlayer binds a new player to identity in the named room.
//
// Postcondition: Returns world.ErrRoomNotFound if the room does not exist.
func (r *WorldRepository) CreatePlayer(ctx context.Context, p world.Player) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO players (identity, name, room_id)
		 SELECT $1, $2, id FROM rooms WHERE name = $3`,
		p.Identity, p.Name, p.Room,
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("player %q: already exists", p.Identity)
	}
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("room %q: %w", p.Room, world.ErrRoomNotFound)
	}
	return nil
}

// Seed upserts a complete world definition in one transaction. Rooms are
// matched by name and players by identity; each seeded room's exits are
// replaced.
//
// Precondition: w must pass world.World.Validate.
func (r *WorldRepository) Seed(ctx context.Context, w *world.World) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validating world: %w", err)
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rm := range w.Rooms {
			batch.Queue(
				`INSERT INTO rooms (name, description) VALUES ($1, $2)
				 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`,
				rm.Name, rm.Description,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting rooms: %w", err)
		}

		batch = &pgx.Batch{}
		for _, rm := range w.Rooms {
			batch.Queue(
				`DELETE FROM room_exits WHERE from_room = (SELECT id FROM rooms WHERE name = $1)`,
				rm.Name,
			)
			for i, exit := range rm.Exits {
				batch.Queue(
					`INSERT INTO room_exits (from_room, to_room, position)
					 SELECT src.id, dst.id, $3 FROM rooms src, rooms dst
					 WHERE src.name = $1 AND dst.name = $2`,
					rm.Name, exit, i,
				)
			}
		}
		for _, p := range w.Players {
			batch.Queue(
				`INSERT INTO players (identity, name, room_id)
				 SELECT $1, $2, id FROM rooms WHERE name = $3
				 ON CONFLICT (identity) DO UPDATE SET name = EXCLUDED.name, room_id = EXCLUDED.room_id`,
				p.Identity, p.Name, p.Room,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("seeding exits and players: %w", err)
		}
		return nil
	})
}
