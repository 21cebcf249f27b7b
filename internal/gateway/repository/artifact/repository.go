package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// GuideName is the object every completed job stores its report under.
const GuideName = "guide.json"

// Store persists finished analysis outputs, grouped by job id.
type Store interface {
	Put(ctx context.Context, jobID, name string, content []byte) error
	Get(ctx context.Context, jobID, name string) ([]byte, error)
	// GetURL returns a time-limited download link, or "" when the backend
	// cannot serve one.
	GetURL(ctx context.Context, jobID, name string) (string, error)
	List(ctx context.Context, jobID string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

// objectKey validates the pair and joins it as "<jobID>/<name>".
func objectKey(jobID, name string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	if strings.Contains(jobID, "/") {
		return "", fmt.Errorf("job id %q must not contain '/'", jobID)
	}
	if name == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("artifact name %q escapes its job", name)
		}
	}
	return jobID + "/" + name, nil
}

func jobPrefix(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	return jobID + "/", nil
}
