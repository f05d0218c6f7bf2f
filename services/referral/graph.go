package referral

import (
	"context"
	"errors"
	"time"

	"salespoints-platform/pkg/errutil"
	"salespoints-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// ErrNoReferral signals that the customer was not sourced from a lead or the
// lead carries no inviter. It is a no-op marker, not a failure.
var ErrNoReferral = errors.New("no referral chain")

// Graph resolves a converted customer back to the agent who invited the lead.
type Graph struct {
	db   *gorm.DB
	node *snowflake.Node

	leads       repository.Repository[Lead]
	conversions repository.Repository[LeadConversion]
}

type GraphParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewGraph(p GraphParams) *Graph {
	return &Graph{
		db:   p.DB,
		node: p.Node,

		leads:       repository.ProvideStore[Lead](p.DB),
		conversions: repository.ProvideStore[LeadConversion](p.DB),
	}
}

// Inviter walks conversion -> lead -> inviting agent for the given customer.
// Returns ErrNoReferral when any link is absent.
func (g *Graph) Inviter(ctx context.Context, tx *gorm.DB, customerAgentID string) (string, error) {
	conversion, err := g.conversions.WithTrx(tx).FindOne(ctx, &LeadConversion{CustomerAgentID: customerAgentID})
	if err != nil {
		return "", err
	}
	if conversion == nil {
		return "", ErrNoReferral
	}

	lead, err := g.leads.WithTrx(tx).FindOne(ctx, &Lead{ID: conversion.LeadID})
	if err != nil {
		return "", err
	}
	if lead == nil || lead.InvitedByAgentID == nil || *lead.InvitedByAgentID == "" {
		return "", ErrNoReferral
	}

	return *lead.InvitedByAgentID, nil
}

func (g *Graph) CreateLead(ctx context.Context, lead *Lead) error {
	if lead.ID == "" {
		lead.ID = g.node.Generate().String()
	}
	lead.CreatedAt = time.Now()
	lead.UpdatedAt = time.Now()
	return g.leads.Create(ctx, lead)
}

// Convert records that a lead became the given customer agent. A lead
// converts at most once.
func (g *Graph) Convert(ctx context.Context, leadID, customerAgentID string) (*LeadConversion, error) {
	lead, err := g.leads.FindOne(ctx, &Lead{ID: leadID})
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, errutil.NotFound("lead not found")
	}

	existing, err := g.conversions.FindOne(ctx, &LeadConversion{LeadID: leadID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("lead already converted")
	}

	conversion := &LeadConversion{
		ID:              g.node.Generate().String(),
		LeadID:          leadID,
		CustomerAgentID: customerAgentID,
		ConvertedAt:     time.Now(),
	}
	if err := g.conversions.Create(ctx, conversion); err != nil {
		return nil, err
	}

	return conversion, nil
}
