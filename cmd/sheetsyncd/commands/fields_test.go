package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincontrol/sheetsync/internal/model"
)

func TestParseFields(t *testing.T) {
	tests := map[string]struct {
		args      []string
		expFields model.Fields
		expErr    bool
	}{
		"name=value pairs should parse in order": {
			args: []string{"date=2026-02-01", "amount=42.50"},
			expFields: model.Fields{
				{Name: "date", Value: "2026-02-01"},
				{Name: "amount", Value: "42.50"},
			},
		},
		"Value may contain equal signs": {
			args: []string{"description=a=b"},
			expFields: model.Fields{
				{Name: "description", Value: "a=b"},
			},
		},
		"Empty value should parse": {
			args: []string{"description="},
			expFields: model.Fields{
				{Name: "description", Value: ""},
			},
		},
		"Missing separator should fail": {
			args:   []string{"amount"},
			expErr: true,
		},
		"Empty name should fail": {
			args:   []string{"=42"},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fields, err := parseFields(tc.args)

			if tc.expErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expFields, fields)
		})
	}
}
