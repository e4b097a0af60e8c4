package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
)

// StartStocktake opens a counting session with every product's current
// ledger quantity as the expected figure.
func (s *Service) StartStocktake(ctx context.Context, actor domain.Actor, notes string) (domain.InventoryAct, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.InventoryAct{}, err
	}

	act, err := s.repo.CreateInventoryAct(ctx, domain.InventoryAct{
		ActDate: s.clock(),
		UserID:  actor.Username,
		Notes:   strings.TrimSpace(notes),
	})
	if err != nil {
		return domain.InventoryAct{}, err
	}
	s.logAudit(ctx, actor, "stocktake_start", "inventory_act", act.ID, fmt.Sprintf("items=%d", len(act.Items)))
	return *act, nil
}

func (s *Service) GetStocktake(ctx context.Context, id string) (domain.InventoryAct, error) {
	act, err := s.repo.GetInventoryAct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.InventoryAct{}, err
	}
	return *act, nil
}

func (s *Service) ListStocktakes(ctx context.Context, limit int) ([]domain.InventoryAct, error) {
	if limit < 1 {
		limit = 20
	}
	return s.repo.ListInventoryActs(ctx, limit)
}

// SaveStocktakeProgress records counted quantities. It may be called any
// number of times until the act is completed; products left out keep their
// previous count, or none.
func (s *Service) SaveStocktakeProgress(ctx context.Context, actor domain.Actor, actID string, counts []domain.StocktakeCount) (domain.InventoryAct, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.InventoryAct{}, err
	}
	if len(counts) == 0 {
		return domain.InventoryAct{}, store.Invalid("counts", "nothing to save")
	}
	seen := make(map[string]struct{}, len(counts))
	for i := range counts {
		counts[i].ProductID = strings.TrimSpace(counts[i].ProductID)
		if counts[i].ActualQuantity < 0 {
			return domain.InventoryAct{}, store.Invalid(fmt.Sprintf("counts[%d].actual_quantity", i), "must not be negative")
		}
		if _, dup := seen[counts[i].ProductID]; dup {
			return domain.InventoryAct{}, store.Invalid(fmt.Sprintf("counts[%d].product_id", i), "product %s counted twice", counts[i].ProductID)
		}
		seen[counts[i].ProductID] = struct{}{}
	}

	act, err := s.repo.SaveInventoryActCounts(ctx, strings.TrimSpace(actID), counts)
	if err != nil {
		return domain.InventoryAct{}, err
	}
	s.logAudit(ctx, actor, "stocktake_save", "inventory_act", act.ID, fmt.Sprintf("counted=%d/%d,discrepancy=%d", act.CountedItems(), len(act.Items), act.TotalDiscrepancy()))
	return *act, nil
}

// CompleteStocktake overwrites the ledger with every counted quantity and
// closes the act. Uncounted products are skipped. Completing an act twice is
// a no-op reported through AlreadyCompleted.
func (s *Service) CompleteStocktake(ctx context.Context, actor domain.Actor, actID string) (domain.StocktakeCompletion, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.StocktakeCompletion{}, err
	}

	act, alreadyCompleted, err := s.repo.CompleteInventoryAct(ctx, strings.TrimSpace(actID), s.clock())
	if err != nil {
		return domain.StocktakeCompletion{}, err
	}

	applied := act.CountedItems()
	result := domain.StocktakeCompletion{
		Act:              *act,
		AlreadyCompleted: alreadyCompleted,
		Applied:          applied,
		Skipped:          len(act.Items) - applied,
	}
	if alreadyCompleted {
		s.log.Info("stocktake already completed", zap.String("act_id", act.ID))
		return result, nil
	}

	s.logAudit(ctx, actor, "stocktake_complete", "inventory_act", act.ID, fmt.Sprintf("applied=%d,skipped=%d,discrepancy=%d", result.Applied, result.Skipped, act.TotalDiscrepancy()))
	return result, nil
}
