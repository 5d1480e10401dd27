package hostcache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"hostresolve/pkg/logging"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_host_cache.sql
var schemaSQL string

// Store persists Cache snapshots to SQLite so a Manager can survive
// restarts without re-resolving every hostname cold. It mirrors the
// connection-setup idiom of the query-log SQLite backend: a single
// connection, WAL mode, busy-timeout pragma.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// OpenStore opens (creating if necessary) the SQLite database at path and
// applies the host-cache schema.
func OpenStore(path string, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("hostcache: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("hostcache: set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("hostcache: set busy timeout: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("hostcache: apply schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// row is the serialized shape of one Key+Entry pair, matching the embedded
// schema's columns.
type row struct {
	Hostname          string
	Scheme            string
	Port              int
	QueryTypes        string
	Flags             int
	Source            int
	SecureDNSMode     int
	AnonymizationSite string
	Secure            int
	Error             int
	Addresses         string // JSON-encoded []Endpoint
	SourceKind        int
	TTLSeconds        float64
	CreatedAtUnix     float64
	ExpiresAtUnix     float64
	TotalHits         uint64
	StaleHits         uint64
}

func toRow(k Key, e Entry) (row, error) {
	addrJSON, err := json.Marshal(encodeEndpoints(e.Addresses))
	if err != nil {
		return row{}, fmt.Errorf("hostcache: encode addresses: %w", err)
	}
	secure := 0
	if k.Secure {
		secure = 1
	}
	return row{
		Hostname:          k.Hostname,
		Scheme:            k.Scheme,
		Port:              int(k.Port),
		QueryTypes:        k.QueryTypes,
		Flags:             int(k.Flags),
		Source:            int(k.Source),
		SecureDNSMode:     int(k.SecureDNSMode),
		AnonymizationSite: k.NetworkAnonymizationKey.Site,
		Secure:            secure,
		Error:             e.Error,
		Addresses:         string(addrJSON),
		SourceKind:        int(e.SourceKind),
		TTLSeconds:        e.TTL.Seconds(),
		CreatedAtUnix:     float64(e.CreatedAt.UnixNano()) / 1e9,
		ExpiresAtUnix:     float64(e.ExpiresAt.UnixNano()) / 1e9,
		TotalHits:         e.TotalHits,
		StaleHits:         e.StaleHits,
	}, nil
}

func (r row) toKeyEntry() (Key, Entry, error) {
	var encoded []encodedEndpoint
	if r.Addresses != "" {
		if err := json.Unmarshal([]byte(r.Addresses), &encoded); err != nil {
			return Key{}, Entry{}, fmt.Errorf("hostcache: decode addresses: %w", err)
		}
	}
	addrs, err := decodeEndpoints(encoded)
	if err != nil {
		return Key{}, Entry{}, err
	}

	key := Key{
		Scheme:                  r.Scheme,
		Hostname:                r.Hostname,
		Port:                    uint16(r.Port),
		QueryTypes:              r.QueryTypes,
		Flags:                   Flag(r.Flags),
		Source:                  Source(r.Source),
		SecureDNSMode:           SecureDNSMode(r.SecureDNSMode),
		NetworkAnonymizationKey: AnonymizationKey{Site: r.AnonymizationSite},
		Secure:                  r.Secure != 0,
	}
	entry := Entry{
		Error:      r.Error,
		Addresses:  addrs,
		SourceKind: SourceKind(r.SourceKind),
		TTL:        time.Duration(r.TTLSeconds * float64(time.Second)),
		CreatedAt:  time.Unix(0, int64(r.CreatedAtUnix*1e9)),
		ExpiresAt:  time.Unix(0, int64(r.ExpiresAtUnix*1e9)),
		TotalHits:  r.TotalHits,
		StaleHits:  r.StaleHits,
	}
	return key, entry, nil
}

type encodedEndpoint struct {
	Addr string `json:"addr"`
	Port uint16 `json:"port"`
}

func encodeEndpoints(eps []Endpoint) []encodedEndpoint {
	out := make([]encodedEndpoint, len(eps))
	for i, e := range eps {
		out[i] = encodedEndpoint{Addr: e.Addr.String(), Port: e.Port}
	}
	return out
}

func decodeEndpoints(encoded []encodedEndpoint) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(encoded))
	for _, e := range encoded {
		addr, err := netip.ParseAddr(e.Addr)
		if err != nil {
			return nil, fmt.Errorf("hostcache: parse address %q: %w", e.Addr, err)
		}
		out = append(out, Endpoint{Addr: addr, Port: e.Port})
	}
	return out, nil
}

// Serialize snapshots every entry currently in cache into the store,
// replacing any prior snapshot. It implements §4.3.1's serialize() hook.
func (s *Store) Serialize(ctx context.Context, cache *Cache) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("hostcache: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM host_cache_entries"); err != nil {
		return fmt.Errorf("hostcache: clear snapshot: %w", err)
	}

	cache.mu.RLock()
	rows := make([]row, 0, len(cache.entries))
	for k, sl := range cache.entries {
		r, err := toRow(k, sl.entry)
		if err != nil {
			cache.mu.RUnlock()
			return err
		}
		rows = append(rows, r)
	}
	cache.mu.RUnlock()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("hostcache: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Hostname, r.Scheme, r.Port, r.QueryTypes, r.Flags,
			r.Source, r.SecureDNSMode, r.AnonymizationSite, r.Secure, r.Error, r.Addresses,
			r.SourceKind, r.TTLSeconds, r.CreatedAtUnix, r.ExpiresAtUnix, r.TotalHits, r.StaleHits); err != nil {
			return fmt.Errorf("hostcache: insert snapshot row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("hostcache: commit snapshot: %w", err)
	}
	if cache.logger != nil {
		cache.logger.Debug("serialized host cache", "entries", len(rows))
	}
	return nil
}

const insertSQL = `
	INSERT INTO host_cache_entries
	(hostname, scheme, port, query_types, flags, source, secure_dns_mode, anonymization_site, secure,
	 error_code, addresses, source_kind, ttl_seconds, created_at_unix, expires_at_unix, total_hits, stale_hits)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectSQL = `
	SELECT hostname, scheme, port, query_types, flags, source, secure_dns_mode, anonymization_site, secure,
	       error_code, addresses, source_kind, ttl_seconds, created_at_unix, expires_at_unix, total_hits, stale_hits
	FROM host_cache_entries
`

// Restore loads a prior snapshot into cache. Any key that already has an
// entry in cache is skipped, per §4.3.1. Rows with columns this build
// doesn't recognize are tolerated because the SELECT lists columns
// explicitly instead of using "*".
func (s *Store) Restore(ctx context.Context, cache *Cache, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL)
	if err != nil {
		return 0, fmt.Errorf("hostcache: query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	restored := 0
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Hostname, &r.Scheme, &r.Port, &r.QueryTypes, &r.Flags, &r.Source,
			&r.SecureDNSMode, &r.AnonymizationSite, &r.Secure, &r.Error, &r.Addresses, &r.SourceKind,
			&r.TTLSeconds, &r.CreatedAtUnix, &r.ExpiresAtUnix, &r.TotalHits, &r.StaleHits); err != nil {
			return restored, fmt.Errorf("hostcache: scan snapshot row: %w", err)
		}
		key, entry, err := r.toKeyEntry()
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("skipping unreadable host cache row", "hostname", r.Hostname, "error", err)
			}
			continue
		}
		if cache.Contains(key) {
			continue
		}
		cache.Set(key, entry, now)
		restored++
	}
	return restored, rows.Err()
}
