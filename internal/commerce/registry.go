package commerce

import (
	"context"

	"go.uber.org/zap"
)

// Registry is the single process-wide home of the commerce stores. It is built
// once at startup and handed to every consumer.
type Registry struct {
	Cart       *Cart
	Favorites  *ProductSet
	Comparison *ProductSet

	unsubscribe []func()
}

// NewRegistry restores all three stores. Every store is ready when NewRegistry returns.
func NewRegistry(ctx context.Context, opts Options) *Registry {
	r := &Registry{
		Cart:       NewCart(ctx, opts),
		Favorites:  NewFavorites(ctx, opts),
		Comparison: NewComparison(ctx, opts),
	}

	logger := opts.logger()
	r.unsubscribe = append(r.unsubscribe,
		r.Cart.Subscribe(func(s CartSnapshot) {
			logger.Debug("Cart changed",
				zap.Int("items", len(s.Items)),
				zap.Int("total_items", s.TotalItems),
				zap.String("total", s.Total.String()))
		}),
		r.Favorites.Subscribe(func(s SetSnapshot) {
			logger.Debug("Favorites changed", zap.Int("count", s.Count))
		}),
		r.Comparison.Subscribe(func(s SetSnapshot) {
			logger.Debug("Comparison changed", zap.Int("count", s.Count))
		}),
	)
	return r
}

// Close detaches the registry's own observers.
func (r *Registry) Close() {
	for _, fn := range r.unsubscribe {
		fn()
	}
	r.unsubscribe = nil
}
