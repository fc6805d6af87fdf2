// Package classifier wraps the image classification model sidecar. The
// model is an opaque capability: image bytes in, issue label or nothing
// out. It is injected into the ingestion pipeline so tests can substitute
// a double.
package classifier

import (
	"context"
)

// Classifier labels an image with one of the known issue types.
// An empty label with a nil error means the model found no confident match.
// Implementations must be concurrency-safe.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (string, error)
}
