package scraper

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/ratelimit"
	"github.com/maltedev/shop-ranking-scraper/internal/scraper/scrapertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(site *scrapertest.Site, images ImageSource, shop string) *Session {
	cfg := DefaultConfig()
	cfg.WaitTimeout = 0
	return newSession(shop, models.PeriodWeekly, scrapertest.NewHandle(site), images, ratelimit.Nop{}, cfg, nil, slog.Default())
}

func TestSessionRunCollectsAndEnriches(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 3)

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, s.State())
	require.Len(t, res.Items, 3)
	require.Len(t, res.Images, 3)
	require.NoError(t, res.Validate())

	first := res.Items[0]
	assert.Equal(t, "anua", first.Shop)
	assert.Equal(t, "anua item 1", first.Name)
	assert.Equal(t, int64(1980), first.PriceJPY)
	assert.Equal(t, 18612.0, first.PriceKRW)
	assert.Equal(t, 10, first.ReviewCount)
	assert.Equal(t, "100 sold", first.TotalCount)
	assert.Equal(t, scrapertest.DetailURL("anua", 0), first.ProductURL)
	assert.Equal(t, scrapertest.ImageURL("anua", 0), first.ImageURL)

	assert.Equal(t, int64(3980), res.Items[2].PriceJPY)
	assert.Equal(t, 37412.0, res.Items[2].PriceKRW)

	for i, img := range res.Images {
		assert.Equal(t, i, img.Index)
		assert.Equal(t, ".png", img.Ext)
		assert.NotEmpty(t, img.Data)
	}

	assert.Equal(t, "https://m.qoo10.jp/shop/anua", site.Navigations()[0])
	assert.Equal(t, 1, site.Closed(), "page must be released after the run")
}

func TestCollectListingCapsAtTen(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("big", 14)

	s := newTestSession(site, scrapertest.NewImages(), "big")
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, s.Snapshot(), 10)
	assert.Len(t, res.Items, 10)
	assert.Equal(t, "big item 10", res.Items[9].Name)
}

func TestCollectListingRereadsEveryEntry(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 4)

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	// four fields per entry, each through a fresh lookup
	assert.Equal(t, 16, site.ChildReads())
}

func TestSelectPeriodFallsBackToSelectedMarker(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 1)
	site.StaleFails = true

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	_, err := s.Run(context.Background())
	require.NoError(t, err)
}

func TestSelectPeriodTimesOut(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 2)
	site.StaleFails = true
	site.SelectedMissing = true

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	res, err := s.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationTimeout)
	assert.True(t, IsTimeout(err))
	var se *ShopError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PhaseListing, se.Phase)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, site.Closed())
}

func TestMissingReviewDefaultsToZero(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 2)
	site.EditDetail("anua", 1, func(d *scrapertest.Detail) { d.NoReview = true })

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, res.Items[0].ReviewCount)
	assert.Equal(t, 0, res.Items[1].ReviewCount)
}

func TestEnrichFailureKeepsPartialResults(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 10)
	images := scrapertest.NewImages()
	images.Fail(scrapertest.ImageURL("anua", 7), errors.New("connection reset"))

	s := newTestSession(site, images, "anua")
	res, err := s.Run(context.Background())

	var se *ShopError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PhaseEnrich, se.Phase)
	assert.Equal(t, "anua", se.Shop)

	require.Len(t, res.Items, 7)
	require.Len(t, res.Images, 7)
	assert.NoError(t, res.Validate())
	assert.Equal(t, 1, site.Closed())
}

func TestMissingImageFailsShop(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 2)
	site.EditDetail("anua", 0, func(d *scrapertest.Detail) { d.NoImage = true })

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	res, err := s.Run(context.Background())

	assert.ErrorIs(t, err, ErrNavigationTimeout)
	assert.Empty(t, res.Items)
}

func TestMissingDetailURLFailsShop(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 1)

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	s.snapshot = []models.ListingEntry{{Index: 0, Name: "no link"}}
	err := s.EnrichDetails(context.Background())
	assert.ErrorIs(t, err, ErrMissingDetailURL)
	assert.NotErrorIs(t, err, ErrExtractionEmpty)
}

func TestEmptyShopIdentifier(t *testing.T) {
	s := newTestSession(scrapertest.NewSite(), scrapertest.NewImages(), "  ")
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidShop)
}

func TestCanceledContextStopsSession(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSession(site, scrapertest.NewImages(), "anua")
	_, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "listing_snapshotted", StateListingSnapshotted.String())
	assert.Equal(t, "unknown", State(99).String())
}
