package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryActDerivedCounts(t *testing.T) {
	act := InventoryAct{
		Status: InventoryActNew,
		Items: []InventoryActItem{
			{ProductID: "p1", ExpectedQuantity: 10},
			{ProductID: "p2", ExpectedQuantity: 5},
			{ProductID: "p3", ExpectedQuantity: 7},
		},
	}

	act.Items[0].SetActual(8)
	act.Items[1].SetActual(5)

	require.NotNil(t, act.Items[0].Discrepancy)
	assert.Equal(t, -2, *act.Items[0].Discrepancy)
	assert.Equal(t, 0, *act.Items[1].Discrepancy)
	assert.Nil(t, act.Items[2].ActualQuantity)

	assert.Equal(t, 2, act.CountedItems())
	assert.Equal(t, 1, act.ItemsWithDiscrepancy())
	assert.Equal(t, -2, act.TotalDiscrepancy())
	assert.False(t, act.IsCompleted())

	act.Items[2].SetActual(9)
	assert.Equal(t, 0, act.TotalDiscrepancy())
	assert.Equal(t, 2, act.ItemsWithDiscrepancy())
}
