package handlers

import (
	"net/http"

	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/Ruzakiff/crazygpt/internal/broker"
	"github.com/gin-gonic/gin"
)

// TokenHandler sells tokens and reports balances.
type TokenHandler struct {
	broker *broker.Broker
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(b *broker.Broker) *TokenHandler {
	return &TokenHandler{broker: b}
}

type purchaseRequest struct {
	Amount int64 `json:"amount"`
}

type purchaseTierRequest struct {
	Tier string `json:"tier"`
}

type tokenResponse struct {
	Token   string `json:"token"`
	Balance int64  `json:"balance"`
	Tier    string `json:"tier,omitempty"`
}

type tierResponse struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// Purchase creates a token for an arbitrary amount.
func (h *TokenHandler) Purchase(c *gin.Context) {
	var body purchaseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, apperr.New(apperr.KindInvalidRequest, "invalid body", errBind))
		return
	}
	token, err := h.broker.Purchase(c.Request.Context(), body.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse{Token: token, Balance: body.Amount})
}

// PurchaseTier creates a token for one of the fixed tiers.
func (h *TokenHandler) PurchaseTier(c *gin.Context) {
	var body purchaseTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, apperr.New(apperr.KindInvalidRequest, "invalid body", errBind))
		return
	}
	token, amount, err := h.broker.PurchaseTier(c.Request.Context(), body.Tier)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse{Token: token, Balance: amount, Tier: body.Tier})
}

// Tiers lists the purchasable tiers in ascending order.
func (h *TokenHandler) Tiers(c *gin.Context) {
	names := broker.TierNames()
	out := make([]tierResponse, 0, len(names))
	for _, name := range names {
		out = append(out, tierResponse{Name: name, Amount: broker.Tiers[name]})
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}

// Balance returns the caller's remaining units.
func (h *TokenHandler) Balance(c *gin.Context) {
	balance, err := h.broker.Balance(c.Request.Context(), getToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
