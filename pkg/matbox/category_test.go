package matbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input string
		want  matbox.Category
	}{
		{"Presentation", matbox.CategoryPresentation},
		{"application", matbox.CategoryApplication},
		{" OTHER ", matbox.CategoryOther},
		{"1", matbox.CategoryPresentation},
		{"2", matbox.CategoryApplication},
		{"3", matbox.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := matbox.ParseCategory(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCategory_Invalid(t *testing.T) {
	for _, input := range []string{"", "xyz", "0", "4", "Presentations", "Презентация"} {
		t.Run(input, func(t *testing.T) {
			_, err := matbox.ParseCategory(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, matbox.ErrInvalidCategory)
			assert.Equal(t, matbox.KindInvalidCategory, matbox.KindOf(err))
		})
	}
}

func TestCategories(t *testing.T) {
	all := matbox.Categories()
	assert.Equal(t, []matbox.Category{
		matbox.CategoryPresentation, matbox.CategoryApplication, matbox.CategoryOther,
	}, all)

	all[0] = "Mutated"
	assert.Equal(t, matbox.CategoryPresentation, matbox.Categories()[0])

	for _, c := range matbox.Categories() {
		assert.True(t, c.IsValid())
	}
	assert.False(t, matbox.Category("Poster").IsValid())
}
