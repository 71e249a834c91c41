package domain

// CartActionKind is the type of a cart mutation instruction.
type CartActionKind string

const (
	CartAdd    CartActionKind = "add"
	CartRemove CartActionKind = "remove"
	CartUpdate CartActionKind = "update"
	CartClear  CartActionKind = "clear"
)

// CartAction is an instruction for the cart owner. The agent only emits
// these; it never touches the cart itself.
type CartAction struct {
	Kind      CartActionKind `json:"type"`
	ProductID int64          `json:"productId,omitempty"`
	Quantity  int            `json:"quantity,omitempty"`
	Product   *Product       `json:"product,omitempty"`
}

// AgentTurnResult is what a chat turn produces for the caller.
type AgentTurnResult struct {
	SessionID   string       `json:"sessionId"`
	Message     string       `json:"message"`
	CartActions []CartAction `json:"cartActions"`
	Products    []Product    `json:"products,omitempty"`
	Aborted     bool         `json:"aborted,omitempty"`
	AbortReason AbortReason  `json:"abortReason,omitempty"`
	Iterations  int          `json:"iterations"`
}

// AbortReason says why a turn ended with the fallback reply.
type AbortReason string

const (
	AbortIterationLimit AbortReason = "iteration_limit"
	AbortUpstreamModel  AbortReason = "upstream_model"
	AbortTimeout        AbortReason = "timeout"
)
