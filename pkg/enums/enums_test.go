package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSyncAction(t *testing.T) {
	action, err := ParseSyncAction("delete")
	require.NoError(t, err)
	assert.Equal(t, SyncActionDelete, action)

	_, err = ParseSyncAction("archive")
	assert.Error(t, err)
}

func TestParseRetryJobType(t *testing.T) {
	for _, raw := range []string{"end_remote_listing", "zero_remote_quantity", "enforce_location", "set_remote_level"} {
		jobType, err := ParseRetryJobType(raw)
		require.NoError(t, err)
		assert.True(t, jobType.IsValid())
	}
	_, err := ParseRetryJobType("resync")
	assert.Error(t, err)
}

func TestSaleChannelFromSource(t *testing.T) {
	assert.Equal(t, SaleChannelOnlineStore, SaleChannelFromSource("web"))
	assert.Equal(t, SaleChannelPOS, SaleChannelFromSource("pos"))
	assert.Equal(t, SaleChannelOther, SaleChannelFromSource("1234567"))
}

func TestItemKindValidity(t *testing.T) {
	assert.True(t, ItemKindGraded.IsValid())
	assert.False(t, ItemKind("sealed").IsValid())
	_, err := ParseItemKind("sealed")
	assert.Error(t, err)
}
