// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/database"
	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
)

// qsq builds statements with ? placeholders, understood by both DuckDB and SQLite.
var qsq = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var playerColumns = []string{
	"uuid", "name", "registered", "last_seen",
	"times_logged_in", "times_kicked", "banned", "operator", "online",
}

var sessionColumns = []string{
	"id", "uuid", "session_start", "session_end", "mob_kills", "deaths", "afk_time",
}

// nanos encodes t as Unix nanoseconds. The zero time encodes as 0 so it
// survives a round trip; UnixNano is undefined for it.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SQLStore implements Store on a database/sql pool.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLStore creates a store over db. Each operation is bounded by timeout
// when it is positive.
func NewSQLStore(db *sql.DB, timeout time.Duration) *SQLStore {
	return &SQLStore{db: db, timeout: timeout}
}

// NewSQLStoreFromDB creates a store over an opened database.
func NewSQLStoreFromDB(db *database.DB) *SQLStore {
	return NewSQLStore(db.Conn(), db.OperationTimeout())
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// LoadRecord implements Store.
func (s *SQLStore) LoadRecord(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	start := time.Now()
	rec, err := s.loadRecord(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		metrics.RecordStorageOperation("load", time.Since(start), nil)
	} else {
		metrics.RecordStorageOperation("load", time.Since(start), err)
	}
	return rec, err
}

func (s *SQLStore) loadRecord(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.loadPlayer(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadNicknames(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.loadGeolocations(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.loadSessions(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) loadPlayer(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	query, args, err := qsq.Select(playerColumns...).
		From(database.TablePlayers).
		Where(sq.Eq{"uuid": id.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building player query: %w", err)
	}

	var (
		rawID                string
		registered, lastSeen int64
		rec                  = &models.PlayerRecord{}
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&rawID, &rec.Name, &registered, &lastSeen,
		&rec.TimesLoggedIn, &rec.TimesKicked, &rec.Banned, &rec.Operator, &rec.Online,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying player %s: %w", id, err)
	}

	rec.UUID = id
	rec.Registered = fromNanos(registered)
	rec.LastSeen = fromNanos(lastSeen)
	return rec, nil
}

func (s *SQLStore) loadNicknames(ctx context.Context, rec *models.PlayerRecord) error {
	query, args, err := qsq.Select("nickname", "last_used").
		From(database.TableNicknames).
		Where(sq.Eq{"uuid": rec.UUID.String()}).
		OrderBy("last_used ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("building nickname query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying nicknames: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			n        models.Nickname
			lastUsed int64
		)
		if err := rows.Scan(&n.Name, &lastUsed); err != nil {
			return fmt.Errorf("scanning nickname: %w", err)
		}
		n.LastUsed = fromNanos(lastUsed)
		rec.Nicknames = append(rec.Nicknames, n)
	}
	return rows.Err()
}

func (s *SQLStore) loadGeolocations(ctx context.Context, rec *models.PlayerRecord) error {
	query, args, err := qsq.Select("geolocation", "last_used").
		From(database.TableGeolocations).
		Where(sq.Eq{"uuid": rec.UUID.String()}).
		OrderBy("last_used ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("building geolocation query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying geolocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			g        models.GeoInfo
			lastUsed int64
		)
		if err := rows.Scan(&g.Geolocation, &lastUsed); err != nil {
			return fmt.Errorf("scanning geolocation: %w", err)
		}
		g.LastUsed = fromNanos(lastUsed)
		rec.GeoInfo = append(rec.GeoInfo, g)
	}
	return rows.Err()
}

func (s *SQLStore) loadSessions(ctx context.Context, rec *models.PlayerRecord) error {
	query, args, err := qsq.Select(sessionColumns...).
		From(database.TableSessions).
		Where(sq.Eq{"uuid": rec.UUID.String()}).
		OrderBy("session_start ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*models.Session)
	for rows.Next() {
		var (
			rawID, rawPlayer string
			start, end, afk  int64
			sess             = &models.Session{}
		)
		if err := rows.Scan(&rawID, &rawPlayer, &start, &end, &sess.MobKills, &sess.Deaths, &afk); err != nil {
			return fmt.Errorf("scanning session: %w", err)
		}
		if sess.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("parsing session id %q: %w", rawID, err)
		}
		sess.PlayerID = rec.UUID
		sess.Start = fromNanos(start)
		sess.End = fromNanos(end)
		sess.AFK = time.Duration(afk)
		sess.WorldTimes = &models.WorldTimes{Times: make(map[string]map[string]time.Duration)}
		byID[rawID] = sess
		rec.Sessions = append(rec.Sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(byID) == 0 {
		return nil
	}

	if err := s.loadWorldTimes(ctx, rec.UUID, byID); err != nil {
		return err
	}
	return s.loadKills(ctx, rec.UUID, byID)
}

func (s *SQLStore) loadWorldTimes(ctx context.Context, id uuid.UUID, byID map[string]*models.Session) error {
	query, args, err := qsq.Select("wt.session_id", "wt.world_name", "wt.game_mode", "wt.duration").
		From(database.TableWorldTimes + " wt").
		Join(database.TableSessions + " s ON s.id = wt.session_id").
		Where(sq.Eq{"s.uuid": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building world time query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying world times: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			sessionID, world, mode string
			duration               int64
		)
		if err := rows.Scan(&sessionID, &world, &mode, &duration); err != nil {
			return fmt.Errorf("scanning world time: %w", err)
		}
		if sess, ok := byID[sessionID]; ok {
			sess.WorldTimes.Add(world, mode, time.Duration(duration))
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadKills(ctx context.Context, id uuid.UUID, byID map[string]*models.Session) error {
	query, args, err := qsq.Select("k.session_id", "k.victim_uuid", "k.victim_name", "k.weapon", "k.kill_date").
		From(database.TableKills + " k").
		Join(database.TableSessions + " s ON s.id = k.session_id").
		Where(sq.Eq{"s.uuid": id.String()}).
		OrderBy("k.kill_date ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("building kill query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying kills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			sessionID, victim string
			kill              = models.PlayerKill{Killer: id}
			date              int64
		)
		if err := rows.Scan(&sessionID, &victim, &kill.VictimName, &kill.Weapon, &date); err != nil {
			return fmt.Errorf("scanning kill: %w", err)
		}
		if kill.Victim, err = uuid.Parse(victim); err != nil {
			return fmt.Errorf("parsing victim id %q: %w", victim, err)
		}
		kill.Time = fromNanos(date)
		if sess, ok := byID[sessionID]; ok {
			sess.Kills = append(sess.Kills, kill)
		}
	}
	return rows.Err()
}

// SaveRecord implements Store. The player row, names and locations are
// upserted; closed sessions not yet stored are inserted with their world times
// and kills. Open sessions are skipped.
func (s *SQLStore) SaveRecord(ctx context.Context, rec *models.PlayerRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	start := time.Now()
	err := s.saveRecord(ctx, rec)
	metrics.RecordStorageOperation("save", time.Since(start), err)
	return err
}

func (s *SQLStore) saveRecord(ctx context.Context, rec *models.PlayerRecord) (err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Warn().Err(rbErr).Str("player", rec.UUID.String()).Msg("Rollback failed")
			}
		}
	}()

	if err = upsertPlayer(ctx, tx, rec); err != nil {
		return err
	}
	if err = upsertNicknames(ctx, tx, rec); err != nil {
		return err
	}
	if err = upsertGeolocations(ctx, tx, rec); err != nil {
		return err
	}
	if err = insertNewSessions(ctx, tx, rec); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing player %s: %w", rec.UUID, err)
	}
	return nil
}

func exec(ctx context.Context, tx *sql.Tx, b sq.Sqlizer, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building %s: %w", what, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func upsertPlayer(ctx context.Context, tx *sql.Tx, rec *models.PlayerRecord) error {
	b := qsq.Insert(database.TablePlayers).
		Columns(playerColumns...).
		Values(
			rec.UUID.String(), rec.Name, nanos(rec.Registered), nanos(rec.LastSeen),
			rec.TimesLoggedIn, rec.TimesKicked, rec.Banned, rec.Operator, rec.Online,
		).
		Suffix(`ON CONFLICT (uuid) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen,
			times_logged_in = excluded.times_logged_in,
			times_kicked = excluded.times_kicked,
			banned = excluded.banned,
			operator = excluded.operator,
			online = excluded.online`)
	return exec(ctx, tx, b, "upserting player")
}

func upsertNicknames(ctx context.Context, tx *sql.Tx, rec *models.PlayerRecord) error {
	for _, n := range rec.Nicknames {
		b := qsq.Insert(database.TableNicknames).
			Columns("uuid", "nickname", "last_used").
			Values(rec.UUID.String(), n.Name, nanos(n.LastUsed)).
			Suffix("ON CONFLICT (uuid, nickname) DO UPDATE SET last_used = excluded.last_used")
		if err := exec(ctx, tx, b, "upserting nickname"); err != nil {
			return err
		}
	}
	return nil
}

func upsertGeolocations(ctx context.Context, tx *sql.Tx, rec *models.PlayerRecord) error {
	for _, g := range rec.GeoInfo {
		b := qsq.Insert(database.TableGeolocations).
			Columns("uuid", "geolocation", "last_used").
			Values(rec.UUID.String(), g.Geolocation, nanos(g.LastUsed)).
			Suffix("ON CONFLICT (uuid, geolocation) DO UPDATE SET last_used = excluded.last_used")
		if err := exec(ctx, tx, b, "upserting geolocation"); err != nil {
			return err
		}
	}
	return nil
}

func storedSessionIDs(ctx context.Context, tx *sql.Tx, id uuid.UUID) (map[string]struct{}, error) {
	query, args, err := qsq.Select("id").
		From(database.TableSessions).
		Where(sq.Eq{"uuid": id.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stored session query: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stored sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]struct{})
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids[sid] = struct{}{}
	}
	return ids, rows.Err()
}

func insertNewSessions(ctx context.Context, tx *sql.Tx, rec *models.PlayerRecord) error {
	if len(rec.Sessions) == 0 {
		return nil
	}
	stored, err := storedSessionIDs(ctx, tx, rec.UUID)
	if err != nil {
		return err
	}

	for _, sess := range rec.Sessions {
		if sess == nil || sess.IsOpen() {
			continue
		}
		sid := sess.ID.String()
		if _, ok := stored[sid]; ok {
			continue
		}
		if err := insertSession(ctx, tx, rec.UUID, sess); err != nil {
			return err
		}
	}
	return nil
}

func insertSession(ctx context.Context, tx *sql.Tx, player uuid.UUID, sess *models.Session) error {
	sid := sess.ID.String()
	b := qsq.Insert(database.TableSessions).
		Columns(sessionColumns...).
		Values(
			sid, player.String(), nanos(sess.Start), nanos(sess.End),
			sess.MobKills, sess.Deaths, sess.AFK.Nanoseconds(),
		)
	if err := exec(ctx, tx, b, "inserting session"); err != nil {
		return err
	}

	if sess.WorldTimes != nil && len(sess.WorldTimes.Times) > 0 {
		wt := qsq.Insert(database.TableWorldTimes).
			Columns("session_id", "world_name", "game_mode", "duration")
		for world, modes := range sess.WorldTimes.Times {
			for mode, d := range modes {
				wt = wt.Values(sid, world, mode, d.Nanoseconds())
			}
		}
		if err := exec(ctx, tx, wt, "inserting world times"); err != nil {
			return err
		}
	}

	if len(sess.Kills) > 0 {
		kb := qsq.Insert(database.TableKills).
			Columns("session_id", "killer_uuid", "victim_uuid", "victim_name", "weapon", "kill_date")
		for _, k := range sess.Kills {
			kb = kb.Values(sid, player.String(), k.Victim.String(), k.VictimName, k.Weapon, nanos(k.Time))
		}
		if err := exec(ctx, tx, kb, "inserting kills"); err != nil {
			return err
		}
	}
	return nil
}
