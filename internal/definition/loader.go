package definition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chamahq/journey/model"
)

// Loader scans a directory for YAML journey definition files and publishes
// them for a set of tenants. It is a development and bootstrap convenience;
// production definitions arrive through the administrative API.
type Loader struct {
	service *Service
}

// NewLoader creates a definition Loader.
func NewLoader(service *Service) *Loader {
	return &Loader{service: service}
}

// LoadAll recursively scans dir for *.yaml and *.yml files and parses each
// into a JourneyDefinition.
func (l *Loader) LoadAll(dir string) ([]model.JourneyDefinition, error) {
	var defs []model.JourneyDefinition

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		def, err := l.LoadFile(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML definition file.
func (l *Loader) LoadFile(path string) (model.JourneyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.JourneyDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	return def, nil
}

// Seed publishes and activates every definition found in dir for each of the
// given tenants. A definition whose code already has an active version for a
// tenant is skipped; seeding never supersedes live definitions.
func (l *Loader) Seed(ctx context.Context, dir string, tenants []string) (int, error) {
	defs, err := l.LoadAll(dir)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, tenant := range tenants {
		rctx := &model.RequestContext{TenantID: tenant, SubjectID: "system"}
		for _, def := range defs {
			_, err := l.service.store.FindActive(ctx, tenant, def.Code)
			if err == nil {
				continue
			}
			if model.CodeOf(err) != model.ErrJourneyNotFound {
				return published, err
			}

			created, err := l.service.Publish(ctx, rctx, def)
			if err != nil {
				return published, fmt.Errorf("seeding %s for tenant %s: %w", def.Code, tenant, err)
			}
			if err := l.service.Activate(ctx, rctx, created.Code, created.Version); err != nil {
				return published, fmt.Errorf("activating %s for tenant %s: %w", def.Code, tenant, err)
			}
			published++
		}
	}
	return published, nil
}
