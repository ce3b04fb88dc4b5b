package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carelink/internal/platform/db"
)

// ChannelPrefix is prepended to the table name to form the NOTIFY channel
// the carelink_notify_change trigger publishes on.
const ChannelPrefix = "carelink_"

// PgSource streams changes over LISTEN/NOTIFY. Each entity listens on its own
// connection outside the pool; row lookups borrow a pool connection briefly.
type PgSource struct {
	pool *pgxpool.Pool
}

func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

func (s *PgSource) Open(ctx context.Context, entity Entity) (Stream, error) {
	conn, err := db.ListenConn(ctx, s.pool)
	if err != nil {
		return nil, err
	}

	channel := pgx.Identifier{ChannelPrefix + entity.Table}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Close(context.Background())
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "0A000" {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	return &pgStream{conn: conn, rows: s.pool, entity: entity, channel: channel}, nil
}

type pgStream struct {
	conn    *pgx.Conn
	rows    db.Querier
	entity  Entity
	channel string
}

type notifyPayload struct {
	Op     string   `json:"op"`
	ID     string   `json:"id"`
	Owners []string `json:"owners"`
}

func (p *pgStream) Next(ctx context.Context) (Change, error) {
	for {
		n, err := p.conn.WaitForNotification(ctx)
		if err != nil {
			return Change{}, err
		}

		change, ok := parseNotification(n.Payload)
		if !ok {
			continue
		}
		if change.Op != OpDelete {
			doc, err := p.loadRow(ctx, change.ID)
			if err != nil {
				return Change{}, err
			}
			change.Document = doc
		}
		return change, nil
	}
}

func (p *pgStream) loadRow(ctx context.Context, id string) (map[string]interface{}, error) {
	table := pgx.Identifier{p.entity.Table}.Sanitize()
	var raw []byte
	err := p.rows.QueryRow(ctx,
		"SELECT row_to_json(t) FROM "+table+" t WHERE t.id::text = $1", id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", p.entity.Table, id, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", p.entity.Table, err)
	}
	return doc, nil
}

func (p *pgStream) Close(ctx context.Context) error {
	_, err := p.conn.Exec(ctx, "UNLISTEN "+p.channel)
	if cerr := p.conn.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// parseNotification decodes a trigger payload. Unknown operations and
// malformed payloads are skipped.
func parseNotification(payload string) (Change, bool) {
	var np notifyPayload
	if err := json.Unmarshal([]byte(payload), &np); err != nil || np.ID == "" {
		return Change{}, false
	}
	c := Change{ID: np.ID, Owners: np.Owners}
	switch np.Op {
	case "insert":
		c.Op = OpInsert
	case "update":
		c.Op = OpUpdate
	case "delete":
		c.Op = OpDelete
	default:
		return Change{}, false
	}
	return c, true
}
