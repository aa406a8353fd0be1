// Package scheduler orders ready work and diagnoses workspace posture.
// The selector is authoritative over dispatch order; the diagnostician is
// advisory only.
package scheduler

import (
	"context"
	"sort"

	"github.com/orket/orket/pkg/models"
)

// CardReader is the repository surface the selector needs.
type CardReader interface {
	ListReady(ctx context.Context) ([]*models.Card, error)
	Dependents(ctx context.Context, id string) ([]string, error)
	GetCard(ctx context.Context, id string) (*models.Card, error)
}

// Selector computes the critical-path ordering of READY cards. For an
// unchanged repository state the ordering is a pure function: same state,
// same order.
type Selector struct {
	cards        CardReader
	fanoutFactor float64
}

// NewSelector creates a selector. fanoutFactor weighs how many downstream
// cards a candidate would unblock.
func NewSelector(cards CardReader, fanoutFactor float64) *Selector {
	return &Selector{cards: cards, fanoutFactor: fanoutFactor}
}

// Ranked is one READY card with its computed scheduling weight.
type Ranked struct {
	Card   *models.Card
	Weight float64
}

// Select returns READY cards whose dependencies are all terminal, ordered
// by weight descending with created_at then id as stable tie-breaks.
//
//	weight = priority + fanoutFactor * exclusiveDownstream
//
// where exclusiveDownstream counts dependents blocked only on this card.
func (s *Selector) Select(ctx context.Context) ([]Ranked, error) {
	ready, err := s.cards.ListReady(ctx)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, 0, len(ready))
	for _, card := range ready {
		fanout, err := s.exclusiveDownstream(ctx, card.ID)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Ranked{
			Card:   card,
			Weight: card.Priority + s.fanoutFactor*float64(fanout),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		if !ranked[i].Card.CreatedAt.Equal(ranked[j].Card.CreatedAt) {
			return ranked[i].Card.CreatedAt.Before(ranked[j].Card.CreatedAt)
		}
		return ranked[i].Card.ID < ranked[j].Card.ID
	})
	return ranked, nil
}

// Next returns the single highest-weight READY card, or nil when the
// backlog has nothing dispatchable.
func (s *Selector) Next(ctx context.Context) (*models.Card, error) {
	ranked, err := s.Select(ctx)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0].Card, nil
}

// exclusiveDownstream counts non-terminal dependents whose only unmet
// dependency is the given card. Completing it would unblock exactly these.
func (s *Selector) exclusiveDownstream(ctx context.Context, cardID string) (int, error) {
	dependentIDs, err := s.cards.Dependents(ctx, cardID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, depID := range dependentIDs {
		dependent, err := s.cards.GetCard(ctx, depID)
		if err != nil {
			return 0, err
		}
		if dependent.Status.IsTerminal() {
			continue
		}

		exclusive := true
		for _, upstream := range dependent.DependsOn {
			if upstream == cardID {
				continue
			}
			other, err := s.cards.GetCard(ctx, upstream)
			if err != nil {
				return 0, err
			}
			if !other.Status.IsTerminal() {
				exclusive = false
				break
			}
		}
		if exclusive {
			count++
		}
	}
	return count, nil
}
