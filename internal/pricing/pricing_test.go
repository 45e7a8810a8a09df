package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/config"
	"github.com/onlab/orderdesk/internal/domain"
)

func TestDefaultQuotes(t *testing.T) {
	table := Default()

	tests := []struct {
		kind  domain.ServiceKind
		pages int
		want  int64
	}{
		{domain.PlagiarismCheck, 0, 70},
		{domain.CourseHeroUnlock, 0, 30},
		{domain.ResearchLibraryUnlock, 0, 30},
		{domain.AiRemoval, 2, 300},
		{domain.AiRemoval, 1, 150},
	}

	for _, tt := range tests {
		got, err := table.Quote(tt.kind, tt.pages)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s x%d", tt.kind, tt.pages)
	}
}

func TestQuote_AiRemovalNeedsPages(t *testing.T) {
	_, err := Default().Quote(domain.AiRemoval, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFromConfig(t *testing.T) {
	table, err := FromConfig(&config.PricingFile{
		Prices:           map[string]int64{"plagiarism_check": 90},
		AiRemovalPerPage: 100,
	})
	require.NoError(t, err)

	price, err := table.Quote(domain.PlagiarismCheck, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(90), price)

	price, err = table.Quote(domain.AiRemoval, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(300), price)

	_, err = FromConfig(&config.PricingFile{Prices: map[string]int64{"essay": 10}})
	assert.Error(t, err)
}
