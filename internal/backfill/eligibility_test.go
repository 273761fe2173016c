package backfill

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/proximity-cli/internal/model"
)

func named(name string) model.Entity {
	return model.Entity{Attributes: map[string]string{"name": name}}
}

func TestAllowAttribute(t *testing.T) {
	allow := AllowAttribute("name", "CVS", "CVS Pharmacy", "CVS/pharmacy")

	tests := []struct {
		name string
		want bool
	}{
		{"CVS", true},
		{"cvs", true},
		{"  CVS Pharmacy ", true},
		{"cvs/PHARMACY", true},
		{"Walgreens", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allow(named(tt.name)))
		})
	}
}

func TestAllowAttribute_EmptyAllowsAll(t *testing.T) {
	allow := AllowAttribute("name", "", " ")
	assert.True(t, allow(named("anything")))
	assert.True(t, allow(model.Entity{}))
}

func TestAllowAttribute_MissingKey(t *testing.T) {
	allow := AllowAttribute("brand", "cvs")
	assert.False(t, allow(named("CVS")))
}
