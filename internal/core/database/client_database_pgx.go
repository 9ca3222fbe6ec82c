package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/regkb/internal/config"
	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	return Open(ctx, dsn)
}

// Open connects to dsn, checks the connection and bootstraps the schema
func Open(ctx context.Context, dsn string) (*DatabaseClient, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	logger.Named("db").Info().Msg("connected to postgres")
	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping reports whether the database answers
func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Legal sources

func (c *DatabaseClient) UpsertLegalSource(ctx context.Context, src *models.LegalSource) error {
	if src == nil {
		return errors.New("nil legal source")
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO legal_sources
			(id, country_code, source_type, source_ref, title, issuer, source_date, source_url, full_text, excerpt, total_pages)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (country_code, source_type, source_ref) DO UPDATE SET
			title       = COALESCE(EXCLUDED.title, legal_sources.title),
			issuer      = COALESCE(EXCLUDED.issuer, legal_sources.issuer),
			source_date = COALESCE(EXCLUDED.source_date, legal_sources.source_date),
			source_url  = COALESCE(EXCLUDED.source_url, legal_sources.source_url),
			full_text   = EXCLUDED.full_text,
			excerpt     = EXCLUDED.excerpt,
			total_pages = EXCLUDED.total_pages,
			updated_at  = now()
		RETURNING id, created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		src.ID, src.CountryCode, src.SourceType, src.SourceRef,
		nullString(src.Title), nullString(src.Issuer), src.SourceDate, nullString(src.SourceURL),
		src.FullText, nullString(src.Excerpt), nullInt(src.TotalPages),
	).Scan(&src.ID, &src.CreatedAt, &src.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetLegalSource(ctx context.Context, id string) (*models.LegalSource, error) {
	const q = `
		SELECT id, country_code, source_type, source_ref, title, issuer, source_date, source_url,
		       full_text, excerpt, total_pages, created_at, updated_at
		FROM legal_sources
		WHERE id = $1
	`
	var (
		s                                 models.LegalSource
		title, issuer, sourceURL, excerpt sql.NullString
		sourceDate                        sql.NullTime
		totalPages                        sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.CountryCode, &s.SourceType, &s.SourceRef, &title, &issuer, &sourceDate, &sourceURL,
		&s.FullText, &excerpt, &totalPages, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Title, s.Issuer, s.SourceURL, s.Excerpt = title.String, issuer.String, sourceURL.String, excerpt.String
	s.TotalPages = int(totalPages.Int64)
	if sourceDate.Valid {
		d := sourceDate.Time
		s.SourceDate = &d
	}
	return &s, nil
}

// AppendSourceBatch appends text to full_text and inserts chunks in one transaction,
// so a failed batch leaves neither the text nor the chunks behind.
func (c *DatabaseClient) AppendSourceBatch(ctx context.Context, id, text string, totalPages int, chunks []models.TextChunk) error {
	const q = `
		UPDATE legal_sources
		SET full_text   = CASE WHEN full_text = '' THEN $2 ELSE full_text || E'\n\n' || $2 END,
		    total_pages = $3,
		    updated_at  = now()
		WHERE id = $1
	`
	return c.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, id, text, totalPages)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return perr.NotFoundf("legal source not found: %s", id)
		}
		return insertChunks(ctx, tx, chunks)
	})
}

// Text chunks

func (c *DatabaseClient) ReplaceTextChunks(ctx context.Context, sourceID string, chunks []models.TextChunk) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM text_chunks WHERE source_id = $1`, sourceID); err != nil {
			return err
		}
		return insertChunks(ctx, tx, chunks)
	})
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []models.TextChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	const q = `
		INSERT INTO text_chunks
			(id, source_id, chunk_index, text, page_number, start_offset, end_offset, token_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		// a failed embedding is stored as NULL, never as a zero vector
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.SourceID, ch.ChunkIndex, ch.Text, ch.PageNumber,
			ch.StartOffset, ch.EndOffset, ch.TokenCount, vec,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return nil
}

func (c *DatabaseClient) MaxChunkIndex(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(chunk_index), -1) FROM text_chunks WHERE source_id = $1`, sourceID).Scan(&n)
	return n, err
}

func (c *DatabaseClient) CountChunks(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM text_chunks WHERE source_id = $1`, sourceID).Scan(&n)
	return n, err
}

// ListTextChunks returns the chunks of a source in index order, embeddings included.
func (c *DatabaseClient) ListTextChunks(ctx context.Context, sourceID string) ([]models.TextChunk, error) {
	const q = `
		SELECT id, source_id, chunk_index, text, page_number, start_offset, end_offset, token_count, embedding, created_at
		FROM text_chunks
		WHERE source_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TextChunk
	for rows.Next() {
		var (
			ch   models.TextChunk
			page sql.NullInt64
			emb  pgvector.Vector
			raw  sql.NullString
		)
		if err := rows.Scan(
			&ch.ID, &ch.SourceID, &ch.ChunkIndex, &ch.Text, &page,
			&ch.StartOffset, &ch.EndOffset, &ch.TokenCount, &raw, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if page.Valid {
			p := int(page.Int64)
			ch.PageNumber = &p
		}
		if raw.Valid {
			if err := emb.Scan(raw.String); err != nil {
				return nil, fmt.Errorf("scan embedding of chunk %d: %w", ch.ChunkIndex, err)
			}
			ch.Embedding = emb.Slice()
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Evidence

func (c *DatabaseClient) UpsertEvidence(ctx context.Context, rows []models.Evidence) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const q = `
		INSERT INTO hs_evidence
			(id, source_id, code_key, hs_code_6, national_code, page_number, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, code_key) DO UPDATE SET
			hs_code_6     = EXCLUDED.hs_code_6,
			national_code = EXCLUDED.national_code,
			page_number   = EXCLUDED.page_number,
			context       = EXCLUDED.context
		WHERE length(EXCLUDED.context) > length(hs_evidence.context)
		RETURNING (xmax = 0) AS inserted
	`
	inserted := 0
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range rows {
			r := &rows[i]
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			var isNew bool
			err := stmt.QueryRowContext(ctx,
				r.ID, r.SourceID, r.CodeKey, r.HSCode6, r.NationalCode, r.PageNumber, r.Context,
			).Scan(&isNew)
			switch {
			case err == sql.ErrNoRows:
				// existing row kept its longer context
			case err != nil:
				return fmt.Errorf("upsert evidence %s: %w", r.CodeKey, err)
			case isNew:
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (c *DatabaseClient) DeleteEvidenceBySource(ctx context.Context, sourceID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM hs_evidence WHERE source_id = $1`, sourceID)
	return err
}

func (c *DatabaseClient) ListEvidence(ctx context.Context, sourceID string) ([]models.Evidence, error) {
	const q = `
		SELECT id, source_id, code_key, hs_code_6, national_code, page_number, context, created_at
		FROM hs_evidence
		WHERE source_id = $1
		ORDER BY page_number ASC, code_key ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Evidence
	for rows.Next() {
		var (
			e        models.Evidence
			national sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.CodeKey, &e.HSCode6, &national, &e.PageNumber, &e.Context, &e.CreatedAt); err != nil {
			return nil, err
		}
		if national.Valid {
			n := national.String
			e.NationalCode = &n
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rate limits

// HitRateLimit advances the client's window in one statement. The row lock taken by
// ON CONFLICT serializes concurrent hits from every instance; every CASE reads the old row.
func (c *DatabaseClient) HitRateLimit(ctx context.Context, clientID string, now time.Time, p models.RateLimitPolicy) (models.RateLimitEntry, error) {
	const q = `
		INSERT INTO rate_limits AS r (client_id, request_count, window_start, blocked_until)
		VALUES ($1, 1, $2, NULL)
		ON CONFLICT (client_id) DO UPDATE SET
			request_count = CASE
				WHEN r.blocked_until > $2 THEN r.request_count
				WHEN r.blocked_until IS NOT NULL OR r.window_start <= $3 THEN 1
				WHEN r.request_count >= $4 THEN r.request_count
				ELSE r.request_count + 1
			END,
			window_start = CASE
				WHEN r.blocked_until > $2 THEN r.window_start
				WHEN r.blocked_until IS NOT NULL OR r.window_start <= $3 THEN $2
				ELSE r.window_start
			END,
			blocked_until = CASE
				WHEN r.blocked_until > $2 THEN r.blocked_until
				WHEN r.blocked_until IS NOT NULL OR r.window_start <= $3 THEN NULL
				WHEN r.request_count >= $4 THEN $5::timestamptz
				ELSE NULL
			END
		RETURNING client_id, request_count, window_start, blocked_until
	`
	var (
		e       models.RateLimitEntry
		blocked sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q,
		clientID,
		now,
		now.Add(-p.Window),
		p.MaxRequests,
		now.Add(p.BlockDuration),
	).Scan(&e.ClientID, &e.Count, &e.WindowStart, &blocked)
	if err != nil {
		return models.RateLimitEntry{}, perr.FromPostgres(err, "hit rate limit")
	}
	if blocked.Valid {
		e.BlockedUntil = blocked.Time
	}
	return e, nil
}

func (c *DatabaseClient) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}
