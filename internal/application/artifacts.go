package application

import "context"

// ArtifactStore port for audit artifacts (impact reports, batch summaries).
// Returns the stored object's URL.
type ArtifactStore interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
	PutText(ctx context.Context, key string, text string) (string, error)
}
