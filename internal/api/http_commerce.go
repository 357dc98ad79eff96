package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"storefront-service/internal/commerce"
	"storefront-service/internal/domain"
)

// CartItemInput defines the expected input for adding a product to the cart.
type CartItemInput struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity" validate:"omitempty,gte=1,lte=999"`
}

// ProductInput defines the expected input for favorites and comparison toggles.
type ProductInput struct {
	Product domain.Product `json:"product"`
}

// MembershipResponse reports whether a product is held by a store.
type MembershipResponse struct {
	ProductID string `json:"product_id"`
	Member    bool   `json:"member"`
	Quantity  int    `json:"quantity,omitempty"`
	Count     int    `json:"count"`
}

func cartPayload(s commerce.CartSnapshot) commerce.CartSnapshot {
	if s.Items == nil {
		s.Items = []commerce.CartItem{}
	}
	return s
}

func setPayload(s commerce.SetSnapshot) commerce.SetSnapshot {
	if s.Items == nil {
		s.Items = []domain.Product{}
	}
	return s
}

// decodeProductPayload decodes and validates a JSON body. It writes the error
// response itself and reports false when the body is unusable.
func (h *HTTPHandler) decodeProductPayload(w http.ResponseWriter, r *http.Request, dest any, product func() domain.Product) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	if product().Price.IsNegative() {
		h.respondWithError(w, http.StatusBadRequest, "Validation failed: price cannot be negative")
		return false
	}
	return true
}

func productIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "productId"))
}

// --- Cart Handlers ---

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, cartPayload(h.stores.Cart.Snapshot()))
}

func (h *HTTPHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var input CartItemInput
	if !h.decodeProductPayload(w, r, &input, func() domain.Product { return input.Product }) {
		return
	}
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	h.stores.Cart.AddItem(input.Product, quantity)
	h.respondWithJSON(w, http.StatusOK, cartPayload(h.stores.Cart.Snapshot()))
}

func (h *HTTPHandler) GetCartItem(w http.ResponseWriter, r *http.Request) {
	id := productIDParam(r)
	cart := h.stores.Cart
	h.respondWithJSON(w, http.StatusOK, MembershipResponse{
		ProductID: id,
		Member:    cart.Contains(id),
		Quantity:  cart.Quantity(id),
		Count:     cart.TotalItems(),
	})
}

func (h *HTTPHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	h.stores.Cart.RemoveItem(productIDParam(r))
	h.respondWithJSON(w, http.StatusOK, cartPayload(h.stores.Cart.Snapshot()))
}

func (h *HTTPHandler) IncrementCartItem(w http.ResponseWriter, r *http.Request) {
	h.stores.Cart.IncrementItem(productIDParam(r))
	h.respondWithJSON(w, http.StatusOK, cartPayload(h.stores.Cart.Snapshot()))
}

func (h *HTTPHandler) DecrementCartItem(w http.ResponseWriter, r *http.Request) {
	h.stores.Cart.DecrementItem(productIDParam(r))
	h.respondWithJSON(w, http.StatusOK, cartPayload(h.stores.Cart.Snapshot()))
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.stores.Cart.Clear()
	h.respondWithJSON(w, http.StatusOK, cartPayload(h.stores.Cart.Snapshot()))
}

// --- Favorites / Comparison Handlers ---

func (h *HTTPHandler) registerSetRoutes(r chi.Router, set *commerce.ProductSet) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		h.respondWithJSON(w, http.StatusOK, setPayload(set.Snapshot()))
	})
	r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
		set.Clear()
		h.respondWithJSON(w, http.StatusOK, setPayload(set.Snapshot()))
	})
	r.Post("/toggle", func(w http.ResponseWriter, r *http.Request) {
		var input ProductInput
		if !h.decodeProductPayload(w, r, &input, func() domain.Product { return input.Product }) {
			return
		}
		member := set.Toggle(input.Product)
		h.respondWithJSON(w, http.StatusOK, MembershipResponse{
			ProductID: input.Product.ID,
			Member:    member,
			Count:     set.Count(),
		})
	})
	r.Get("/{productId}", func(w http.ResponseWriter, r *http.Request) {
		id := productIDParam(r)
		h.respondWithJSON(w, http.StatusOK, MembershipResponse{ProductID: id, Member: set.Contains(id), Count: set.Count()})
	})
	r.Delete("/{productId}", func(w http.ResponseWriter, r *http.Request) {
		set.Remove(productIDParam(r))
		h.respondWithJSON(w, http.StatusOK, setPayload(set.Snapshot()))
	})
}
