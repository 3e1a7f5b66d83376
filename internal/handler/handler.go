package handler

import (
	"credits-core/internal/chain"
	"credits-core/internal/service"
	"credits-core/internal/settings"
)

// Handler 聚合 HTTP 层依赖
type Handler struct {
	credits    *service.CreditService
	payouts    *service.PayoutService
	settings   *settings.Resolver
	capability *chain.Capability
}

func New(credits *service.CreditService, payouts *service.PayoutService, resolver *settings.Resolver, capability *chain.Capability) *Handler {
	return &Handler{
		credits:    credits,
		payouts:    payouts,
		settings:   resolver,
		capability: capability,
	}
}
