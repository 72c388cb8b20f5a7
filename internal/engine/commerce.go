package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
)

// stepCommerce executes cart-mutating and cart-reading nodes. Catalog
// lookups that fail degrade to a skipped effect; the chain continues.
func (e *Engine) stepCommerce(ctx context.Context, sess *session.Session, node *flow.Node, uctx map[string]string, res *Result, sink Sink) {
	switch node.Type {
	case flow.TypeShowProduct:
		p := node.Params.(*flow.ShowProductParams)
		product := e.lookupProduct(ctx, p.ProductID)
		if product == nil {
			return
		}
		text := fmt.Sprintf("%s — %s", product.Name, formatNumber(product.Price))
		e.emit(ctx, res, sink, SendMessage{Text: text})

	case flow.TypeAddToCart:
		p := node.Params.(*flow.AddToCartParams)
		price := p.Price
		if price == 0 {
			if product := e.lookupProduct(ctx, p.ProductID); product != nil {
				price = product.Price
			}
		}
		sess.CartAdd(p.ProductID, p.Quantity, price)
		e.emitCart(ctx, sess, "item_added", res, sink)

	case flow.TypeUpdateQuantity:
		p := node.Params.(*flow.UpdateQuantityParams)
		sess.CartSetQuantity(p.ProductID, p.Quantity)
		e.emitCart(ctx, sess, "quantity_updated", res, sink)

	case flow.TypeRemoveFromCart:
		p := node.Params.(*flow.RemoveFromCartParams)
		sess.CartRemove(p.ProductID)
		e.emitCart(ctx, sess, "item_removed", res, sink)

	case flow.TypeApplyPromo:
		p := node.Params.(*flow.ApplyPromoParams)
		e.applyPromo(ctx, sess, Interpolate(p.Code, uctx), res, sink)

	case flow.TypeShowCart:
		e.emitCart(ctx, sess, "cart", res, sink)

	case flow.TypeClearCart:
		sess.CartClear()
		e.emitCart(ctx, sess, "cart_cleared", res, sink)
	}
}

func (e *Engine) lookupProduct(ctx context.Context, productID string) *Product {
	if e.stock == nil || productID == "" {
		return nil
	}

	product, err := e.stock.Product(ctx, productID)
	if err != nil {
		e.log.Warn("product lookup failed",
			slog.String("product_id", productID), slog.Any("error", err))
		return nil
	}

	return product
}

// applyPromo discounts every cart line's price snapshot by the resolved
// fraction. An unknown or failing code leaves the cart unchanged.
func (e *Engine) applyPromo(ctx context.Context, sess *session.Session, code string, res *Result, sink Sink) {
	if e.promos == nil || code == "" {
		return
	}

	discount, err := e.promos.Discount(ctx, code)
	if err != nil {
		e.log.Warn("promo resolve failed", slog.String("code", code), slog.Any("error", err))
		return
	}

	if discount <= 0 || discount > 1 {
		return
	}

	for i := range sess.Cart {
		sess.Cart[i].PriceSnapshot *= 1 - discount
	}

	e.emitCart(ctx, sess, "promo_applied", res, sink)
}

func (e *Engine) emitCart(ctx context.Context, sess *session.Session, note string, res *Result, sink Sink) {
	e.emit(ctx, res, sink, CommerceUpdate{
		Cart:  snapshotCart(sess),
		Total: sess.CartTotal(),
		Note:  note,
	})
}

// snapshotCart copies the cart so emitted effects are immune to later
// session mutation within the same chain.
func snapshotCart(sess *session.Session) []session.CartItem {
	if len(sess.Cart) == 0 {
		return nil
	}

	snapshot := make([]session.CartItem, len(sess.Cart))
	copy(snapshot, sess.Cart)
	return snapshot
}
