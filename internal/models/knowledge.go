package models

import (
	"time"

	"github.com/lib/pq"
)

// KnowledgeEntry represents a curated question/answer pair stored in the
// 'knowledge_entries' table, with an embedding vector for similarity search.
type KnowledgeEntry struct {
	ID           int64           `db:"id"`
	Question     string          `db:"question"`
	Answer       string          `db:"answer"`
	Category     *string         `db:"category"`
	Embedding    pq.Float64Array `db:"embedding"`
	CreatedBy    *int64          `db:"created_by"`
	TimesMatched int64           `db:"times_matched"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}
