package engine

import (
	"testing"

	"github.com/aethra/reportdesk/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestExtractPrimaryField(t *testing.T) {
	tests := []struct {
		name      string
		content   models.JSONB
		wantName  string
		wantValue string
	}{
		{
			name:      "primaryField object",
			content:   models.JSONB{"primaryField": map[string]interface{}{"name": "store_id", "value": "S-9"}},
			wantName:  "store_id",
			wantValue: "S-9",
		},
		{
			name:      "primaryField without name",
			content:   models.JSONB{"primaryField": map[string]interface{}{"value": float64(12)}},
			wantName:  DefaultPrimaryFieldName,
			wantValue: "12",
		},
		{
			name: "legacy selected object",
			content: models.JSONB{
				"primaryIdentifierField": "region",
				"selectedFieldValues":    map[string]interface{}{"region": map[string]interface{}{"value": "EMEA"}},
			},
			wantName:  "region",
			wantValue: "EMEA",
		},
		{
			name: "legacy selected scalar",
			content: models.JSONB{
				"primaryIdentifierField": "region",
				"selectedFieldValues":    map[string]interface{}{"region": "APAC"},
			},
			wantName:  "region",
			wantValue: "APAC",
		},
		{
			name:     "nothing",
			content:  models.JSONB{"title": "x"},
			wantName: DefaultPrimaryFieldName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPrimaryField(tt.content)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantValue, got.ValueOrEmpty())
			assert.Equal(t, tt.wantValue != "", got.HasValue())
		})
	}
}

func TestRewritePrimaryValue(t *testing.T) {
	c := content("BR1")
	RewritePrimaryValue(c, "BR1-3")
	v, _ := c.String("primaryField", "value")
	assert.Equal(t, "BR1-3", v)

	legacy := models.JSONB{
		"primaryIdentifierField": "region",
		"selectedFieldValues":    map[string]interface{}{"region": map[string]interface{}{"value": "EMEA", "label": "Europe"}},
	}
	RewritePrimaryValue(legacy, "EMEA-1")
	assert.Equal(t, "EMEA-1", ExtractPrimaryField(legacy).ValueOrEmpty())
	label, _ := legacy.String("selectedFieldValues", "region", "label")
	assert.Equal(t, "Europe", label)

	RewritePrimaryValue(nil, "x")
}

func TestNumericSuffix(t *testing.T) {
	tests := []struct {
		value string
		n     int
		ok    bool
	}{
		{"BR1-4", 4, true},
		{"BR1-12", 12, true},
		{"BR1-", 0, false},
		{"BR1-visit-2", 0, false},
		{"BR1-4a", 0, false},
		{"BR2-4", 0, false},
	}
	for _, tt := range tests {
		n, ok := numericSuffix(tt.value, "BR1-")
		assert.Equal(t, tt.ok, ok, tt.value)
		assert.Equal(t, tt.n, n, tt.value)
	}
}
