// Package rag implements the retrieved-context document store: the engine's
// "context provider". Retrieval returns ranked text snippets; any failure is
// treated by callers as zero context, never as an error in the token
// breakdown.
package rag

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Document is a stored reference text.
type Document struct {
	ID        string
	Name      string
	Content   string
	CreatedAt time.Time
}

// Snippet is one ranked retrieval result.
type Snippet struct {
	DocumentID string
	Name       string
	Text       string
}

const createDocumentsTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
`

// snippetRadius is how many characters around a match a snippet carries.
const snippetRadius = 240

// Store is a sqlite-backed document store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the document store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")
	if _, err := db.Exec(createDocumentsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add stores a document and returns it with its generated id.
func (s *Store) Add(name, content string) (*Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty document content")
	}
	d := &Document{
		ID:        uuid.NewString()[:8],
		Name:      name,
		Content:   content,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, name, content, created_at)
		VALUES (?, ?, ?, ?)`,
		d.ID, d.Name, d.Content, d.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

// List returns stored documents without their content, newest first.
func (s *Store) List(limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, name, created_at
		FROM documents
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var created string
		if err := rows.Scan(&d.ID, &d.Name, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Delete removes a document by id.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// Retrieve returns up to limit snippets whose documents contain the query.
// Search is keyword-based: LIKE matching, newest documents first. A blank
// query returns nothing.
func (s *Store) Retrieve(query string, limit int) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT id, name, content
		FROM documents
		WHERE content LIKE ? OR name LIKE ?
		ORDER BY created_at DESC
		LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}
	defer rows.Close()

	var snippets []Snippet
	for rows.Next() {
		var id, name, content string
		if err := rows.Scan(&id, &name, &content); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		snippets = append(snippets, Snippet{
			DocumentID: id,
			Name:       name,
			Text:       excerpt(content, query),
		})
	}
	return snippets, rows.Err()
}

// excerpt cuts a window of text around the first case-insensitive match of
// query. When the match is only in the document name, the head of the
// content is used. Window edges are snapped to rune boundaries so the
// snippet is always valid UTF-8.
func excerpt(content, query string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end := idx + len(query) + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	out := content[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}
