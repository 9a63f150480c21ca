package storage

import (
	"context"
	"path"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/constants"
)

// Store is the object storage the pipeline reads inputs from and writes artifacts to.
// Keys are slash separated, relative to the bucket root.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key below prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Keys builds the artifact layout of a single run.
type Keys struct {
	RunID string
}

func (k Keys) Config() string {
	return path.Join(k.RunID, constants.ConfigDir, constants.ComplianceConfigFile)
}

func (k Keys) InputsPrefix() string {
	return path.Join(k.RunID, constants.InputsDir) + "/"
}

func (k Keys) SupplierDetails() string {
	return path.Join(k.RunID, constants.ProcessingDir, constants.SupplierDetailsFile)
}

func (k Keys) SectionPDF(section string) string {
	return path.Join(k.RunID, constants.ProcessingDir, section+constants.SectionPDFSuffix)
}

func (k Keys) SectionData(section string) string {
	return path.Join(k.RunID, constants.ProcessingDir, section+constants.SectionDataSuffix)
}

func (k Keys) Email() string {
	return path.Join(k.RunID, constants.EmailDir, constants.EmailFile)
}

func (k Keys) Status() string {
	return path.Join(k.RunID, constants.StatusDir, constants.StatusFile)
}

// CleanKey normalises a key and rejects anything escaping the bucket root.
func CleanKey(key string) (string, bool) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", false
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}
