package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperationMissingBranch(t *testing.T) {
	_, err := ParseOperation("Operation hash is 'ooAbc'\n")
	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.Equal(t, "branch", outErr.Expected)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestParsers(t *testing.T) {
	op, err := ParseOperationHash("Operation hash is 'onXyz'\n")
	require.NoError(t, err)
	assert.Equal(t, "onXyz", op)

	block, err := ParseActivation("Injected BMabc\n")
	require.NoError(t, err)
	assert.Equal(t, "BMabc", block.BlockHash)

	_, err = ParseBake("Error: no slot\n")
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = ParseInclusion("still waiting\n")
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = ParseSignature("no signature here")
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = ParseHash("Raw packed data: 0x05\n")
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestExtractBalance(t *testing.T) {
	tests := []struct {
		output  string
		want    float64
		wantErr bool
	}{
		{"4000000 ꜩ\n", 4000000, false},
		{"0.000001 ꜩ", 0.000001, false},
		{"", 0, true},
		{"lots ꜩ", 0, true},
	}
	for _, tt := range tests {
		got, err := ExtractBalance(tt.output)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidOutput, tt.output)
			continue
		}
		require.NoError(t, err, tt.output)
		assert.Equal(t, tt.want, got)
	}
}

func TestExtractProtocols(t *testing.T) {
	assert.Equal(t, []string{"ProtoA", "ProtoB"}, ExtractProtocols("ProtoA\nProtoB\n"))
	assert.Empty(t, ExtractProtocols(""))
}
