package signing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileDocuments reads contracts rendered to <dir>/<project id>.pdf.
type FileDocuments struct {
	Dir string
}

func (d FileDocuments) Contract(_ context.Context, projectID uuid.UUID) (string, []byte, error) {
	name := projectID.String() + ".pdf"
	content, err := os.ReadFile(filepath.Join(d.Dir, name))
	if err != nil {
		return "", nil, fmt.Errorf("read contract: %w", err)
	}
	return "contract-" + name, content, nil
}
