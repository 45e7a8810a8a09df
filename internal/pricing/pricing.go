// Package pricing quotes order prices per service kind.
package pricing

import (
	"fmt"

	"github.com/onlab/orderdesk/internal/config"
	"github.com/onlab/orderdesk/internal/domain"
)

// Default prices in minor currency units.
const (
	DefaultPlagiarismCheck       int64 = 70
	DefaultCourseHeroUnlock      int64 = 30
	DefaultResearchLibraryUnlock int64 = 30
	DefaultAiRemovalPerPage      int64 = 150
)

// Table maps service kinds to prices. AiRemoval is priced per page.
type Table struct {
	flat    map[domain.ServiceKind]int64
	perPage int64
}

// Default returns the standard price table.
func Default() *Table {
	return &Table{
		flat: map[domain.ServiceKind]int64{
			domain.PlagiarismCheck:       DefaultPlagiarismCheck,
			domain.CourseHeroUnlock:      DefaultCourseHeroUnlock,
			domain.ResearchLibraryUnlock: DefaultResearchLibraryUnlock,
		},
		perPage: DefaultAiRemovalPerPage,
	}
}

// FromConfig overlays a loaded pricing file on the defaults.
func FromConfig(cfg *config.PricingFile) (*Table, error) {
	t := Default()
	if cfg == nil {
		return t, nil
	}
	for name, price := range cfg.Prices {
		kind, err := domain.ParseServiceKind(name)
		if err != nil {
			return nil, err
		}
		if kind == domain.AiRemoval {
			t.perPage = price
			continue
		}
		t.flat[kind] = price
	}
	if cfg.AiRemovalPerPage > 0 {
		t.perPage = cfg.AiRemovalPerPage
	}
	return t, nil
}

// Quote returns the price for kind. pages is only used for AiRemoval.
func (t *Table) Quote(kind domain.ServiceKind, pages int) (int64, error) {
	if kind == domain.AiRemoval {
		if pages <= 0 {
			return 0, fmt.Errorf("%w: page count must be positive", domain.ErrInvalidInput)
		}
		return t.perPage * int64(pages), nil
	}
	price, ok := t.flat[kind]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", domain.ErrInvalidInput, kind)
	}
	return price, nil
}

// PerPage returns the AiRemoval per-page price.
func (t *Table) PerPage() int64 {
	return t.perPage
}
