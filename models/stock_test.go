package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationID_MarshalJSON(t *testing.T) {
	tests := []struct {
		id   LocationID
		want string
	}{
		{"7", `7`},
		{"-3", `-3`},
		{"+1", `"+1"`},
		{"007", `"007"`},
		{WarehouseID, `"casa_matriz"`},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			data, err := json.Marshal(struct {
				ID LocationID `json:"id"`
			}{tt.id})
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":`+tt.want+`}`, string(data))
		})
	}
}
