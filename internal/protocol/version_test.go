package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIsOrdered(t *testing.T) {
	all := All()
	require.Len(t, all, int(Current))
	assert.Equal(t, Oldest, all[0])
	assert.Equal(t, Current, all[len(all)-1])

	seen := map[string]bool{}
	for i, v := range all {
		assert.True(t, v.Valid())
		assert.NotEmpty(t, v.String())
		assert.False(t, seen[v.String()], "duplicate name %s", v)
		seen[v.String()] = true
		if i > 0 {
			assert.Equal(t, 1, v.Compare(all[i-1]), "%s must be newer than %s", v, all[i-1])
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		want    Version
		wantErr bool
	}{
		{name: "1.0a100", want: V1_0A100},
		{name: "1.30", want: V1_30},
		{name: "1.81.22", want: V1_81_22},
		{name: "1.84.0", want: Current},
		{name: "2.0", wantErr: true},
		{name: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		name         string
		v            Version
		since, until Version
		want         bool
	}{
		{"open bounds", V1_46, 0, 0, true},
		{"before since", V1_0A100, V1_0A117, 0, false},
		{"at since", V1_0A117, V1_0A117, 0, true},
		{"at until", V1_30, 0, V1_30, true},
		{"after until", V1_31, 0, V1_30, false},
		{"inside closed range", V1_0A126, V1_0A117, V1_30, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.InRange(tt.since, tt.until))
		})
	}
	assert.True(t, V1_31.AtLeast(V1_31))
	assert.True(t, V1_30.AtMost(V1_31))
	assert.Equal(t, "version#0", Version(0).String())
}
