package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractOrderID(t *testing.T) {
	tests := []struct {
		name   string
		appID  string
		memo   string
		want   string
		wantOK bool
	}{
		{name: "matching app", appID: "appX", memo: "1-appX-order7", want: "order7", wantOK: true},
		{name: "other app", appID: "appY", memo: "1-appX-order7"},
		{name: "garbage", appID: "appX", memo: "garbage"},
		{name: "too many segments", appID: "appX", memo: "1-appX-order-7"},
		{name: "two segments", appID: "appX", memo: "1-appX"},
		{name: "empty order id", appID: "appX", memo: "1-appX-"},
		{name: "empty memo", appID: "appX", memo: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractOrderID(tt.appID, tt.memo)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeMemo_RoundTripsThroughExtract(t *testing.T) {
	memo := EncodeMemo("appX", "o1")

	assert.Equal(t, "1-appX-o1", memo)
	got, ok := ExtractOrderID("appX", memo)
	assert.True(t, ok)
	assert.Equal(t, "o1", got)
}
