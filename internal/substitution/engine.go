// Package substitution suggests interchangeable medicines that are in stock
// when a requested medicine is not.
package substitution

import (
	"context"
	"errors"
	"sort"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
)

type Engine struct {
	master store.MasterRepository
	repo   store.Repository
	limit  int
}

func NewEngine(master store.MasterRepository, repo store.Repository, limit int) *Engine {
	if limit <= 0 {
		limit = 5
	}
	return &Engine{master: master, repo: repo, limit: limit}
}

// Suggest resolves the registered substitutes of a medicine against the
// catalogue and keeps only the ones with stock on hand at the store, ranked
// by available quantity, ties broken by name. Substitute names that no
// longer resolve to a catalogue entry are skipped rather than failing the
// lookup.
func (e *Engine) Suggest(ctx context.Context, storeID int64, medicineID int64) ([]domain.SubstituteSuggestion, error) {
	subs, err := e.master.ListSubstitutesByMedicine(ctx, medicineID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	suggestions := make([]domain.SubstituteSuggestion, 0, len(subs))
	seen := make(map[int64]struct{}, len(subs))
	for _, sub := range subs {
		med, err := e.master.GetMedicineByName(ctx, sub.SubstituteMedicine)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if med.MedicineID == medicineID {
			continue
		}
		if _, dup := seen[med.MedicineID]; dup {
			continue
		}
		seen[med.MedicineID] = struct{}{}

		avail, err := e.repo.GetAvailability(ctx, storeID, med.MedicineID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if avail.AvailableQuantity <= 0 {
			continue
		}
		suggestions = append(suggestions, domain.SubstituteSuggestion{
			MedicineID:        med.MedicineID,
			MedicineName:      med.MedicineName,
			AvailableQuantity: avail.AvailableQuantity,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].AvailableQuantity != suggestions[j].AvailableQuantity {
			return suggestions[i].AvailableQuantity > suggestions[j].AvailableQuantity
		}
		return suggestions[i].MedicineName < suggestions[j].MedicineName
	})
	if len(suggestions) > e.limit {
		suggestions = suggestions[:e.limit]
	}
	return suggestions, nil
}
