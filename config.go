package lawkb

import (
	"os"
	"path/filepath"
	"time"

	"github.com/junyiz/lawkb/llm"
)

// Config holds all configuration for the lawkb engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.lawkb/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. "home" (default) uses ~/.lawkb/, "local" uses
	// the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Model backends. An empty Chat provider selects the deterministic
	// extractive composer; an empty Embedding provider selects the
	// local hashing embedder.
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// Blended retrieval weights.
	WeightLexical  float64 `json:"weight_lexical" yaml:"weight_lexical"`
	WeightSemantic float64 `json:"weight_semantic" yaml:"weight_semantic"`

	// CategoryBoost is added to a candidate's blended score when it
	// matches the consultation's resolved category.
	CategoryBoost float64 `json:"category_boost" yaml:"category_boost"`

	// MaxCitations caps the entries retrieved for one consultation.
	MaxCitations int `json:"max_citations" yaml:"max_citations"`

	// MinClassifyConfidence is the classifier's uncategorized threshold.
	MinClassifyConfidence float64 `json:"min_classify_confidence" yaml:"min_classify_confidence"`

	// ConsultTimeout bounds a single consultation, including each item
	// of a batch.
	ConsultTimeout time.Duration `json:"consult_timeout" yaml:"consult_timeout"`

	// ConsultRetries is the number of extra attempts for transient
	// retrieval or composition failures within one consultation.
	ConsultRetries int `json:"consult_retries" yaml:"consult_retries"`

	// BatchConcurrency caps the parallel items of a batch consultation.
	BatchConcurrency int `json:"batch_concurrency" yaml:"batch_concurrency"`

	// MaxBatchSize caps the questions accepted in one batch.
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// IndexQueueSize is the capacity of the index notification queue.
	IndexQueueSize int `json:"index_queue_size" yaml:"index_queue_size"`

	// EmbeddingDim must match the embedding model.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// DefaultConfig returns a Config that runs fully local: extractive
// composition, hashing embedder, database in ~/.lawkb/lawkb.db.
func DefaultConfig() Config {
	return Config{
		DBName:                "lawkb",
		StorageDir:            "home",
		Embedding:             llm.Config{Provider: "local"},
		WeightLexical:         0.5,
		WeightSemantic:        0.5,
		CategoryBoost:         0.15,
		MaxCitations:          5,
		MinClassifyConfidence: 0.2,
		ConsultTimeout:        30 * time.Second,
		ConsultRetries:        2,
		BatchConcurrency:      4,
		MaxBatchSize:          20,
		IndexQueueSize:        256,
		EmbeddingDim:          256,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "lawkb"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".lawkb", name+".db")
	}
}
