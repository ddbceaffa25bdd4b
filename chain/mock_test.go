package chain

import (
	"context"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdapterIsDeterministic(t *testing.T) {
	ctx := context.Background()
	m := NewMockAdapter(cmtlog.NewNopLogger())

	first, err := m.AddProduct(ctx, AddProductRequest{Name: "Widget", QRCodeHash: "h1", Owner: "0xa"})
	require.NoError(t, err)
	assert.Equal(t, MockTransactionHash, first.TxHash)
	assert.Equal(t, "1", first.ProductID)

	second, err := m.AddProduct(ctx, AddProductRequest{Name: "Gadget", QRCodeHash: "h2", Owner: "0xa"})
	require.NoError(t, err)
	assert.Equal(t, MockTransactionHash, second.TxHash)
	assert.Equal(t, "2", second.ProductID)

	transfer, err := m.TransferOwnership(ctx, TransferRequest{Identifier: "h1", From: "0xa", To: "0xb"})
	require.NoError(t, err)
	assert.Equal(t, MockTransferHash, transfer.TxHash)

	// unknown identifiers still succeed
	transfer, err = m.TransferOwnership(ctx, TransferRequest{Identifier: "nope", From: "0xa", To: "0xb"})
	require.NoError(t, err)
	assert.Equal(t, MockTransferHash, transfer.TxHash)
}

func TestMockAdapterReads(t *testing.T) {
	ctx := context.Background()
	m := NewMockAdapter(cmtlog.NewNopLogger())

	_, err := m.AddProduct(ctx, AddProductRequest{Name: "Widget", QRCodeHash: "h1", Owner: "0xa"})
	require.NoError(t, err)
	_, err = m.TransferOwnership(ctx, TransferRequest{Identifier: "h1", From: "0xa", To: "0xb"})
	require.NoError(t, err)

	product, err := m.GetProduct(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", product.Name)
	assert.Equal(t, "0xb", product.Owner)

	history, err := m.GetProductHistory(ctx, "1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "0xa", history[1].From)
	assert.Equal(t, "0xb", history[1].To)

	all, err := m.GetAllProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	used, err := m.IsQRCodeUsed(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, used)
	used, err = m.IsQRCodeUsed(ctx, "h9")
	require.NoError(t, err)
	assert.False(t, used)

	t.Run("canned answers for unknown ids", func(t *testing.T) {
		product, err := m.GetProduct(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, MockProductName, product.Name)
		assert.Equal(t, MockOwnerAddress, product.Owner)

		history, err := m.GetProductHistory(ctx, "42")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, MockFromAddress, history[0].From)
	})
}
