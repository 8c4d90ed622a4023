// Package storage keeps projects on disk: the committed story state as a
// JSON file per project, a Markdown export of the manuscript, and a SQLite
// history of every persisted snapshot.
package storage

import "context"

// Storage is the file layer the project store writes through.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
}
