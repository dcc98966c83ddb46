package models

// OrderRecord is the registry entry for one placed order. Created on
// placement and kept for the process lifetime; overwritten only by another
// upsert with the same id.
type OrderRecord struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Accepted  bool   `json:"accepted"`
}

type OrderRequest struct {
	ProductID string `json:"productId" binding:"required"`
}

type OrderResponse struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Accepted  bool   `json:"accepted"`
}
