// Package keyword implements the full-text chunk index with BM25 scoring,
// backed by a per-project SQLite database with an FTS5 mirror table.
package keyword

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/locussearch/locus-mcp/internal/storage"
	"github.com/locussearch/locus-mcp/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id TEXT NOT NULL UNIQUE,
    path TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    kind TEXT NOT NULL,
    content TEXT NOT NULL,
    fts_text TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    fts_text,
    content='chunks',
    content_rowid='id',
    tokenize="unicode61 tokenchars '_'"
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, fts_text) VALUES (new.id, new.fts_text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, fts_text)
    VALUES('delete', old.id, old.fts_text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, fts_text)
    VALUES('delete', old.id, old.fts_text);
    INSERT INTO chunks_fts(rowid, fts_text) VALUES (new.id, new.fts_text);
END;
`

// Index is a project-scoped keyword index.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the keyword index at dbPath.
func Open(dbPath string) (*Index, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keyword: apply schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// UpsertChunks inserts or replaces chunks. Idempotent per chunk id; each
// call commits synchronously in one transaction.
func (ix *Index) UpsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("keyword: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, path, ordinal, start_line, end_line, kind, content, fts_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			path = excluded.path,
			ordinal = excluded.ordinal,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			kind = excluded.kind,
			content = excluded.content,
			fts_text = excluded.fts_text`)
	if err != nil {
		return fmt.Errorf("keyword: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("keyword: chunk %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Path, c.Ordinal,
			c.StartLine, c.EndLine, string(c.Kind), c.Text, SegmentCJK(c.Text)); err != nil {
			return fmt.Errorf("keyword: upsert %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("keyword: commit: %w", err)
	}
	return nil
}

// DeleteByFile removes every chunk whose source path equals path.
func (ix *Index) DeleteByFile(ctx context.Context, path string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("keyword: delete %s: %w", path, err)
	}
	return nil
}

// Search returns the top-limit chunks by BM25 score (k1=1.2, b=0.75, the
// FTS5 defaults), larger scores better, ties broken by chunk id ascending.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	match := buildMatchExpr(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.path, c.start_line, c.end_line, c.content,
		       -bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts) ASC, c.chunk_id ASC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword: search: %w", err)
	}
	defer rows.Close()

	var out []types.Candidate
	for rows.Next() {
		var cand types.Candidate
		var score float64
		if err := rows.Scan(&cand.ChunkID, &cand.Path, &cand.StartLine,
			&cand.EndLine, &cand.Text, &score); err != nil {
			return nil, fmt.Errorf("keyword: scan: %w", err)
		}
		cand.KeywordScore = &score
		out = append(out, cand)
	}
	return out, rows.Err()
}

// GetByIDs fetches chunks by id for hydrating vector search hits.
func (ix *Index) GetByIDs(ctx context.Context, ids []string) (map[string]types.Candidate, error) {
	out := make(map[string]types.Candidate, len(ids))
	stmt, err := ix.db.PrepareContext(ctx, `
		SELECT chunk_id, path, start_line, end_line, content
		FROM chunks WHERE chunk_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("keyword: prepare get: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		var cand types.Candidate
		err := stmt.QueryRowContext(ctx, id).Scan(&cand.ChunkID, &cand.Path,
			&cand.StartLine, &cand.EndLine, &cand.Text)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("keyword: get %s: %w", id, err)
		}
		out[id] = cand
	}
	return out, nil
}

// Paths returns the distinct source paths present in the index, used to
// reconcile against the index state after a crash.
func (ix *Index) Paths(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT DISTINCT path FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("keyword: paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, rows.Err()
}

// Count returns the number of indexed chunks.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// OrdinalsForFile returns the stored ordinals for path in ascending order.
func (ix *Index) OrdinalsForFile(ctx context.Context, path string) ([]int, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT ordinal FROM chunks WHERE path = ? ORDER BY ordinal`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Rebuild deletes every row, leaving an empty index.
func (ix *Index) Rebuild(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("keyword: rebuild: %w", err)
	}
	return nil
}

// buildMatchExpr turns a free-text query into an FTS5 MATCH expression:
// quoted tokens joined with OR. Tokens are lowercase alphanumeric/underscore
// runs; CJK runes stand alone.
func buildMatchExpr(query string) string {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Tokenize lowercases and splits text into alphanumeric-plus-underscore
// runs, with every CJK rune emitted as its own token.
func Tokenize(text string) []string {
	var tokens []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			buf.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// SegmentCJK inserts spaces around CJK runes so the unicode61 tokenizer
// sees each as a standalone token.
func SegmentCJK(text string) string {
	if !containsCJK(text) {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text) + len(text)/4)
	for _, r := range text {
		if isCJK(r) {
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func containsCJK(text string) bool {
	for _, r := range text {
		if isCJK(r) {
			return true
		}
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
