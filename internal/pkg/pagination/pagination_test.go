package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClampsInput(t *testing.T) {
	tests := []struct {
		name              string
		page, limit       int
		wantPage, wantLim int
		wantOffset        int
	}{
		{"defaults", 0, 0, 1, DefaultLimit, 0},
		{"third page", 3, 10, 3, 10, 20},
		{"limit capped", 1, 500, 1, MaxLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantLim, p.Limit)
			assert.Equal(t, tt.wantOffset, p.Offset)
		})
	}
}

func TestGetMeta(t *testing.T) {
	m := GetMeta(New(2, 10), 25)
	assert.Equal(t, 3, m.TotalPages)
	assert.True(t, m.HasNext)
	assert.True(t, m.HasPrev)

	m = GetMeta(New(1, 10), 0)
	assert.Equal(t, 0, m.TotalPages)
	assert.False(t, m.HasNext)
}

func TestNewResponseNeverNil(t *testing.T) {
	var none []string
	page := NewResponse(none, New(1, 5), 0)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)

	page = NewResponse([]string{"a", "b"}, New(1, 5), 2)
	assert.Equal(t, []string{"a", "b"}, page.Data)
	assert.Equal(t, 1, page.Meta.TotalPages)
}
