package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
)

type stubCatalog struct {
	products  map[string]*engine.Product
	discounts map[string]float64
}

func (c *stubCatalog) Product(_ context.Context, id string) (*engine.Product, error) {
	if product, ok := c.products[id]; ok {
		return product, nil
	}
	return nil, errors.New("product not found")
}

func (c *stubCatalog) InStock(_ context.Context, id string, minQty int) (bool, error) {
	product, ok := c.products[id]
	if !ok {
		return false, nil
	}
	return product.Stock >= minQty, nil
}

func (c *stubCatalog) Discount(_ context.Context, code string) (float64, error) {
	discount, ok := c.discounts[code]
	if !ok {
		return 0, errors.New("unknown promo code")
	}
	return discount, nil
}

func cartEffects(effects []engine.Effect) []engine.CommerceUpdate {
	var updates []engine.CommerceUpdate
	for _, effect := range effects {
		if update, ok := effect.(engine.CommerceUpdate); ok {
			updates = append(updates, update)
		}
	}
	return updates
}

func TestEngine_AddToCartUsesCatalogPrice(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "add_to_cart", "config": {"productId": "stickers", "quantity": 2}}
		]
	}`)

	catalog := &stubCatalog{products: map[string]*engine.Product{
		"stickers": {ID: "stickers", Name: "Sticker pack", Price: 3.5, Stock: 10},
	}}

	eng := newTestEngine(t, engine.Deps{Stock: catalog})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	require.Len(t, sess.Cart, 1)
	assert.Equal(t, 2, sess.Cart[0].Quantity)
	assert.Equal(t, 3.5, sess.Cart[0].PriceSnapshot)

	updates := cartEffects(res.Effects)
	require.Len(t, updates, 1)
	assert.Equal(t, "item_added", updates[0].Note)
	assert.InDelta(t, 7.0, updates[0].Total, 0.001)
}

func TestEngine_ApplyPromoDiscountsCart(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "apply_promo", "config": {"code": "SALE10"}}
		]
	}`)

	catalog := &stubCatalog{discounts: map[string]float64{"SALE10": 0.1}}

	eng := newTestEngine(t, engine.Deps{Promos: catalog})
	sess := session.New("f1", 7)
	sess.CartAdd("stickers", 1, 100)

	_, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.InDelta(t, 90.0, sess.Cart[0].PriceSnapshot, 0.001)
}

func TestEngine_ApplyPromoUnknownCodeLeavesCart(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "apply_promo", "config": {"code": "NOPE"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{Promos: &stubCatalog{}})
	sess := session.New("f1", 7)
	sess.CartAdd("stickers", 1, 100)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(100), sess.Cart[0].PriceSnapshot)
	assert.Empty(t, cartEffects(res.Effects))
}

func TestEngine_CartUpdateAndClear(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "update_quantity", "config": {"productId": "stickers", "quantity": 5},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "clear_cart", "config": {}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	sess.CartAdd("stickers", 1, 2)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Empty(t, sess.Cart)

	updates := cartEffects(res.Effects)
	require.Len(t, updates, 2)
	assert.Equal(t, "quantity_updated", updates[0].Note)
	assert.Equal(t, 5, updates[0].Cart[0].Quantity)
	assert.Equal(t, "cart_cleared", updates[1].Note)
	assert.Empty(t, updates[1].Cart)
}

func TestEngine_CheckStockRoutesFailBranch(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "OK", "text": "in stock"}, {"id": "SORRY", "text": "sold out"}],
		"actionNodes": [
			{"id": "A", "type": "check_stock",
			 "config": {"productId": "stickers", "minQty": 5, "failTargetId": "SORRY"},
			 "next": {"targetId": "OK", "targetType": "menu"}}
		]
	}`)

	catalog := &stubCatalog{products: map[string]*engine.Product{
		"stickers": {ID: "stickers", Stock: 2},
	}}

	eng := newTestEngine(t, engine.Deps{Stock: catalog})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, "SORRY", res.MenuID)
}
