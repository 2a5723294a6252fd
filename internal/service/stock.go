package service

import (
	"context"
	"errors"
	"fmt"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/workorder"
	"repairpos/backend/internal/xid"
)

type stockOutcome struct {
	movements int
	exported  int
	imported  int
	warnings  []domain.StockWarning
}

// resolveParts checks that every part id not in known exists in the catalog
// and fills in missing part names.
func resolveParts(ctx context.Context, tx store.Tx, lines []domain.PartLine, known map[string]bool) ([]domain.PartLine, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if seen[line.PartID] {
			continue
		}
		seen[line.PartID] = true
		ids = append(ids, line.PartID)
	}
	if len(ids) == 0 {
		return lines, nil
	}

	catalog, err := tx.GetParts(ctx, ids)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := catalog[id]; !ok && !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.PartNotFound, map[string]any{"partIds": missing})
	}

	out := make([]domain.PartLine, len(lines))
	for i, line := range lines {
		if line.PartName == "" {
			line.PartName = catalog[line.PartID].Name
		}
		out[i] = line
	}
	return out, nil
}

func partNames(lines ...[]domain.PartLine) map[string]string {
	names := make(map[string]string)
	for _, set := range lines {
		for _, line := range set {
			if line.PartName != "" {
				names[line.PartID] = line.PartName
			}
		}
	}
	return names
}

// applyStock moves stock by delta (positive takes units, negative returns
// them). All rows are locked in id order first and every shortage is
// reported at once. With commit false only availability is checked.
func (e *Engine) applyStock(ctx context.Context, tx store.Tx, branchID string, orderID string, delta map[string]int, names map[string]string, commit bool, out *stockOutcome) error {
	ids := workorder.SortedPartIDs(delta)
	if len(ids) == 0 {
		return nil
	}
	available, err := tx.LockStock(ctx, branchID, ids)
	if err != nil {
		return err
	}

	var short []domain.StockShortage
	for _, id := range ids {
		if need := delta[id]; need > 0 && need > available[id] {
			short = append(short, domain.StockShortage{
				PartID:    id,
				PartName:  names[id],
				Available: available[id],
				Requested: need,
			})
		}
	}
	if len(short) > 0 {
		return apperr.New(apperr.InsufficientStock, short)
	}
	if !commit {
		return nil
	}

	for _, id := range ids {
		qty := delta[id]
		if qty == 0 {
			continue
		}
		remaining, err := tx.AdjustStock(ctx, branchID, id, -qty)
		if errors.Is(err, store.ErrInsufficientStock) {
			return apperr.New(apperr.InsufficientStock, []domain.StockShortage{{
				PartID: id, PartName: names[id], Available: remaining, Requested: qty,
			}})
		}
		if err != nil {
			return err
		}

		movement := domain.InventoryMovement{
			ID:          xid.New("mov"),
			BranchID:    branchID,
			PartID:      id,
			WorkOrderID: orderID,
			CreatedAt:   e.now(),
		}
		if qty > 0 {
			movement.Type = domain.MovementExport
			movement.Quantity = qty
			movement.Note = "Xuất kho cho phiếu " + orderID
			out.exported += qty
			if remaining <= e.opts.LowStockThreshold {
				out.warnings = append(out.warnings, domain.StockWarning{
					PartID:    id,
					PartName:  names[id],
					Remaining: remaining,
					Message:   fmt.Sprintf("%s chỉ còn %d trong kho", displayName(names, id), remaining),
				})
			}
		} else {
			movement.Type = domain.MovementImport
			movement.Quantity = -qty
			movement.Note = "Hoàn kho từ phiếu " + orderID
			out.imported += -qty
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		out.movements++
	}
	return nil
}

func displayName(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	return id
}

func negate(q map[string]int) map[string]int {
	out := make(map[string]int, len(q))
	for id, n := range q {
		out[id] = -n
	}
	return out
}

func (e *Engine) recordStock(branchID string, out stockOutcome) {
	e.metrics.StockMoved(branchID, domain.MovementExport, out.exported)
	e.metrics.StockMoved(branchID, domain.MovementImport, out.imported)
	e.metrics.LowStock(len(out.warnings))
}
