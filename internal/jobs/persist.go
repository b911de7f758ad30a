package jobs

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/pipeline"
)

// persistingRunner stores every shop's rows as history once the shop is
// done, partial rows included. A storage failure never fails the shop.
type persistingRunner struct {
	inner  pipeline.ShopRunner
	store  RunStore
	runID  uuid.UUID
	logger *slog.Logger
}

func (p *persistingRunner) RunShop(ctx context.Context, shop string) (*models.ShopRunResult, error) {
	res, err := p.inner.RunShop(ctx, shop)
	if res == nil || len(res.Items) == 0 {
		return res, err
	}

	n, saveErr := p.store.SaveShopItems(ctx, p.runID, res)
	if saveErr != nil {
		p.logger.Warn("failed to store shop items", "run_id", p.runID, "shop", shop, "error", saveErr)
	} else {
		p.logger.Debug("shop items stored", "run_id", p.runID, "shop", shop, "rows", n)
	}
	return res, err
}
