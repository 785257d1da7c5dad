// Package pipeline reads the artifacts produced by the extraction pipeline:
// the per-account base tree (manual.json) and the match-review queue
// (match-review.json). The API never writes these files — corrections are
// stored as overlays and composed at read time.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"

	"orgmap/api/internal/matchreview"
	"orgmap/api/internal/orgtree"
)

const (
	fileCompanyData = "manual.json"
	fileMatchReview = "match-review.json"
)

// Loader resolves pipeline artifacts for an account. When an object store is
// configured it wins over the local data directory, so a deployment can move
// to bucket-hosted artifacts without touching callers.
type Loader struct {
	dataDir string
	objects *minio.Client
	bucket  string
}

// NewLoader creates a loader that reads from dataDir/<account>/<file>.
func NewLoader(dataDir string) *Loader {
	return &Loader{dataDir: dataDir}
}

// WithObjectStore switches the loader to read <account>/<file> from the given
// bucket instead of the local filesystem.
func (l *Loader) WithObjectStore(client *minio.Client, bucket string) *Loader {
	l.objects = client
	l.bucket = bucket
	return l
}

// CompanyData returns the account's base tree, or nil when the pipeline has
// not produced one. Accounts without pipeline output are still usable — their
// tree comes entirely from a graduated map overlay.
func (l *Loader) CompanyData(ctx context.Context, account string) (*orgtree.CompanyData, error) {
	raw, err := l.read(ctx, account, fileCompanyData)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var data orgtree.CompanyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", account, fileCompanyData, err)
	}
	if data.Root == nil {
		log.Printf("pipeline: %s/%s has no root node", account, fileCompanyData)
		return nil, nil
	}
	return &data, nil
}

// ReviewFile returns the account's match-review queue, or an empty file when
// the pipeline has not produced one.
func (l *Loader) ReviewFile(ctx context.Context, account string) (*matchreview.ReviewFile, error) {
	raw, err := l.read(ctx, account, fileMatchReview)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &matchreview.ReviewFile{Items: []matchreview.ReviewItem{}}, nil
	}
	var file matchreview.ReviewFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", account, fileMatchReview, err)
	}
	if file.Items == nil {
		file.Items = []matchreview.ReviewItem{}
	}
	return &file, nil
}

func (l *Loader) read(ctx context.Context, account, name string) ([]byte, error) {
	if l.objects != nil {
		return l.readObject(ctx, account, name)
	}
	raw, err := os.ReadFile(filepath.Join(l.dataDir, account, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", account, name, err)
	}
	return raw, nil
}

func (l *Loader) readObject(ctx context.Context, account, name string) ([]byte, error) {
	key := account + "/" + name
	obj, err := l.objects.GetObject(ctx, l.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return raw, nil
}
