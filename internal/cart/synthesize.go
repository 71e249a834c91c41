package cart

import "github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"

// Synthesize merges detector output and explicit intents into one ordered
// list of cart actions:
//
//   - at most one clear, always first;
//   - removes and updates in message order, one per product, where an
//     update to zero or less becomes a remove;
//   - adds last, one per product, explicit adds before detected ones.
//
// A product the shopper explicitly removed or re-quantified is not added
// again from detection in the same turn. The result is never nil.
func Synthesize(detected []domain.Product, intents []Intent) []domain.CartAction {
	actions := []domain.CartAction{}

	for _, in := range intents {
		if in.Kind == domain.CartClear {
			actions = append(actions, domain.CartAction{Kind: domain.CartClear})
			break
		}
	}

	// Later commands for the same product override earlier ones but keep
	// the earlier position.
	mutated := map[int64]int{}
	for _, in := range intents {
		kind := in.Kind
		switch kind {
		case domain.CartRemove, domain.CartUpdate:
		default:
			continue
		}
		a := domain.CartAction{Kind: kind, ProductID: in.Product.ID, Quantity: in.Quantity}
		if kind == domain.CartUpdate && in.Quantity <= 0 {
			a = domain.CartAction{Kind: domain.CartRemove, ProductID: in.Product.ID}
		}
		if kind == domain.CartRemove {
			a.Quantity = 0
		}
		if i, ok := mutated[a.ProductID]; ok {
			actions[i] = a
			continue
		}
		mutated[a.ProductID] = len(actions)
		actions = append(actions, a)
	}

	added := map[int64]int{}
	add := func(p domain.Product, qty int) {
		if qty < 1 {
			qty = 1
		}
		if i, ok := added[p.ID]; ok {
			actions[i].Quantity = max(actions[i].Quantity, qty)
			return
		}
		product := p
		added[p.ID] = len(actions)
		actions = append(actions, domain.CartAction{Kind: domain.CartAdd, ProductID: p.ID, Quantity: qty, Product: &product})
	}

	for _, in := range intents {
		if in.Kind == domain.CartAdd {
			add(in.Product, in.Quantity)
		}
	}
	for _, p := range detected {
		if _, ok := mutated[p.ID]; ok {
			continue
		}
		if _, ok := added[p.ID]; ok {
			continue
		}
		add(p, 1)
	}
	return actions
}
