// Package refdata loads the reference dataset (phase templates and seed
// records) and serves it as an immutable, swappable snapshot.
package refdata

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/catalog"
	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	embeddedTemplates = "data/templates_phases.json"
	embeddedDemoData  = "data/demo_data.json"
)

//go:embed data/templates_phases.json data/demo_data.json
var embedded embed.FS

// Source says where the two documents come from. Empty paths use the copies
// embedded in the binary.
type Source struct {
	Templates string
	DemoData  string
	Defaults  catalog.Defaults
}

// SourceFromConfig resolves the configured paths against workspace.
func SourceFromConfig(cfg *config.Config, workspace string) Source {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || workspace == "" {
			return p
		}
		return filepath.Join(workspace, p)
	}
	return Source{
		Templates: resolve(cfg.Data.Templates),
		DemoData:  resolve(cfg.Data.DemoData),
		Defaults:  catalog.Defaults{DurationDays: cfg.Engine.DefaultDurationDays, Responsable: catalog.DefaultResponsable},
	}
}

// Paths lists the on-disk files of the source.
func (s Source) Paths() []string {
	var out []string
	for _, p := range []string{s.Templates, s.DemoData} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s Source) read(path, embeddedName string) ([]byte, error) {
	if path == "" {
		return embedded.ReadFile(embeddedName)
	}
	return os.ReadFile(path)
}

// EmbeddedDocuments returns the built-in templates and seed records.
func EmbeddedDocuments() (templates, demo []byte) {
	templates, _ = embedded.ReadFile(embeddedTemplates)
	demo, _ = embedded.ReadFile(embeddedDemoData)
	return templates, demo
}

// Load reads and decodes both documents. It never returns a nil snapshot: a
// document that cannot be read or decoded contributes nothing, and the
// returned error wraps domain.ErrMalformedReferenceData.
func Load(src Source, log *zap.Logger) (*Snapshot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var errs []error
	tpl, err := src.read(src.Templates, embeddedTemplates)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: templates: %v", domain.ErrMalformedReferenceData, err))
	}
	demo, err := src.read(src.DemoData, embeddedDemoData)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: demo data: %v", domain.ErrMalformedReferenceData, err))
	}
	snap, err := Parse(tpl, demo, src.Defaults)
	if err != nil {
		errs = append(errs, err)
	}
	for _, d := range snap.Diagnostics {
		log.Warn("reference data entry repaired", zap.String("detail", d))
	}
	err = errors.Join(errs...)
	if err != nil {
		log.Error("reference data degraded",
			zap.Strings("paths", src.Paths()),
			zap.Error(err),
		)
	}
	log.Debug("reference data loaded", zap.Any("counts", snap.Counts()))
	return snap, err
}

// Parse decodes the two documents. nil input is treated as absent and left
// empty without error.
func Parse(templates, demo []byte, defaults catalog.Defaults) (*Snapshot, error) {
	snap := EmptySnapshot()
	var errs []error
	if templates != nil {
		cat, err := catalog.ParseWith(templates, defaults)
		if err != nil {
			errs = append(errs, err)
		} else {
			snap.Catalog = cat
		}
	}
	if demo != nil {
		var ds rawDataset
		if err := json.Unmarshal(demo, &ds); err != nil {
			errs = append(errs, fmt.Errorf("%w: demo data: %v", domain.ErrMalformedReferenceData, err))
		} else {
			snap.decodeRecords(ds)
		}
	}
	return snap, errors.Join(errs...)
}
