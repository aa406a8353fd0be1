package gate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/orket/orket/pkg/models"
)

// iDesign component directories and the naming suffix each enforces.
var categorySuffix = map[models.BoundaryPolicy]string{
	models.BoundaryManager:  "Manager",
	models.BoundaryEngine:   "Engine",
	models.BoundaryAccessor: "Accessor",
	models.BoundaryUtility:  "",
}

// checkIDesign enforces component-category naming for generated or edited
// files whose path implies a category.
func (g *Gate) checkIDesign(role *models.Role, card *models.Card, resolved string) *models.Violation {
	category := categoryForPath(resolved)
	if category == "" {
		return nil
	}

	if suffix := categorySuffix[category]; suffix != "" {
		base := strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
		if !strings.HasSuffix(base, suffix) {
			return &models.Violation{
				Code:     models.ViolationIDesignNaming,
				Severity: models.SeverityError,
				Message: fmt.Sprintf("files under %s/ must be named *%s, got %s",
					category, suffix, filepath.Base(resolved)),
				Path: resolved,
			}
		}
	}

	if role.BoundaryPolicy != "" && role.BoundaryPolicy != category {
		return &models.Violation{
			Code:     models.ViolationIDesignNaming,
			Severity: models.SeverityError,
			Message: fmt.Sprintf("role %s is bound to %s and may not produce %s artifacts",
				role.ID, role.BoundaryPolicy, category),
			Path: resolved,
		}
	}

	return nil
}

// checkComplexity applies the complexity gate: an initiative with more
// child tasks than the threshold must use the formal Manager/Engine/
// Accessor split. Pre-existing trees that already exceed the threshold
// get a warning, never a hard stop — the gate governs new work, not
// history.
func (g *Gate) checkComplexity(ctx context.Context, card *models.Card, resolved string) (*models.Violation, error) {
	if g.children == nil || card == nil {
		return nil, nil
	}

	rootID := card.ParentID
	if card.Kind == models.KindInitiative {
		rootID = card.ID
	}
	if rootID == "" {
		return nil, nil
	}

	children, err := g.children.ListByParent(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if len(children) <= g.complexity {
		return nil, nil
	}

	if categoryForPath(resolved) != "" {
		return nil, nil // already inside the formal split
	}
	return &models.Violation{
		Code:     models.ViolationIDesignComplexity,
		Severity: models.SeverityWarning,
		Message: fmt.Sprintf("initiative %s has %d child tasks (threshold %d); outputs must use the Managers/Engines/Accessors split",
			rootID, len(children), g.complexity),
		Path: resolved,
	}, nil
}

// categoryForPath returns the iDesign category a path implies, or "".
func categoryForPath(path string) models.BoundaryPolicy {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch part {
		case string(models.BoundaryManager):
			return models.BoundaryManager
		case string(models.BoundaryEngine):
			return models.BoundaryEngine
		case string(models.BoundaryAccessor):
			return models.BoundaryAccessor
		case string(models.BoundaryUtility):
			return models.BoundaryUtility
		}
	}
	return ""
}
