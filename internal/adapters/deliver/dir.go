// Package deliver hands rendered exports to the user.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghalamif/MeterFlow/internal/ports"
)

// Dir writes artifacts into a directory. Files appear atomically: data goes to
// a temp file in the same directory which is then linked into place.
type Dir struct {
	Path string
}

func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return &Dir{Path: path}, nil
}

// maxSuffix bounds the search for a free name when exports collide.
const maxSuffix = 99

func (d *Dir) Deliver(ctx context.Context, a ports.Artifact) error {
	_, err := d.DeliverNamed(ctx, a)
	return err
}

// DeliverNamed never replaces an existing file: when a.Name is taken the
// artifact is stored as <base>-1<ext>, <base>-2<ext> and so on.
func (d *Dir) DeliverNamed(ctx context.Context, a ports.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.Name == "" || strings.ContainsAny(a.Name, `/\`) || a.Name == "." || a.Name == ".." {
		return "", fmt.Errorf("invalid artifact name %q", a.Name)
	}

	tmp, err := os.CreateTemp(d.Path, "."+a.Name+".*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", err
	}

	// Link fails with ErrExist instead of replacing the target, so two exports
	// in the same second both survive.
	ext := filepath.Ext(a.Name)
	base := strings.TrimSuffix(a.Name, ext)
	for i := 0; i <= maxSuffix; i++ {
		name := a.Name
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		err := os.Link(tmpName, filepath.Join(d.Path, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", a.Name, maxSuffix)
}

var (
	_ ports.Deliverer      = (*Dir)(nil)
	_ ports.NamedDeliverer = (*Dir)(nil)
)
