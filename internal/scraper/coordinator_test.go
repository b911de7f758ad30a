package scraper

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/scraper/scrapertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(site *scrapertest.Site, images ImageSource, handles *[]*scrapertest.Handle) *Coordinator {
	cfg := DefaultConfig()
	cfg.WaitTimeout = 0
	factory := func(ctx context.Context) (Handle, error) {
		h := scrapertest.NewHandle(site)
		*handles = append(*handles, h)
		return h, nil
	}
	return NewCoordinator(cfg, factory, images, nil, nil, slog.Default())
}

func TestCoordinatorReusesHandleAcrossShops(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 3)
	site.AddShop("romand", 2)
	var handles []*scrapertest.Handle

	c := newTestCoordinator(site, scrapertest.NewImages(), &handles)

	a, err := c.RunSession(context.Background(), "anua")
	require.NoError(t, err)
	b, err := c.RunSession(context.Background(), "romand")
	require.NoError(t, err)

	assert.Len(t, handles, 1)
	assert.Equal(t, 1, c.HandleStarts())
	assert.False(t, handles[0].Closed())

	// nothing from the first shop leaks into the second
	assert.Len(t, a.Result().Items, 3)
	resB := b.Result()
	require.Len(t, resB.Items, 2)
	require.Len(t, resB.Images, 2)
	assert.Len(t, b.Snapshot(), 2)
	for _, it := range resB.Items {
		assert.Equal(t, "romand", it.Shop)
	}
	assert.Equal(t, 0, resB.Images[0].Index)

	require.NoError(t, c.Close())
	assert.True(t, handles[0].Closed())
}

func TestCoordinatorFreshStateAfterFailure(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 4)
	site.AddShop("romand", 1)
	images := scrapertest.NewImages()
	images.Fail(scrapertest.ImageURL("anua", 2), errors.New("boom"))
	var handles []*scrapertest.Handle

	c := newTestCoordinator(site, images, &handles)

	a, err := c.RunShop(context.Background(), "anua")
	require.Error(t, err)
	assert.Len(t, a.Items, 2)

	b, err := c.RunShop(context.Background(), "romand")
	require.NoError(t, err)
	assert.Len(t, b.Items, 1)
	assert.Len(t, b.Images, 1)
	assert.Len(t, handles, 1)
}

func TestCoordinatorConfigureInPlace(t *testing.T) {
	var handles []*scrapertest.Handle
	c := newTestCoordinator(scrapertest.NewSite(), scrapertest.NewImages(), &handles)

	require.NoError(t, c.Configure("./results", models.PeriodDaily))
	require.NoError(t, c.Configure("./other", models.PeriodMonthly))

	assert.Empty(t, handles, "configuring must not start a browser")
	assert.Equal(t, "./other", c.SavePath())
	assert.Equal(t, models.PeriodMonthly, c.Period())
	assert.Error(t, c.Configure("./x", models.Period("Y")))
	assert.Equal(t, models.PeriodMonthly, c.Period())
}

func TestCoordinatorUsesConfiguredPeriod(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 1)
	var handles []*scrapertest.Handle
	c := newTestCoordinator(site, scrapertest.NewImages(), &handles)
	require.NoError(t, c.Configure("./results", models.PeriodDaily))

	res, err := c.RunShop(context.Background(), "anua")
	require.NoError(t, err)
	assert.Equal(t, models.PeriodDaily, res.Period)
}

func TestCoordinatorRestartsBrokenHandle(t *testing.T) {
	site := scrapertest.NewSite()
	site.AddShop("anua", 1)
	var handles []*scrapertest.Handle
	c := newTestCoordinator(site, scrapertest.NewImages(), &handles)

	_, err := c.RunShop(context.Background(), "anua")
	require.NoError(t, err)

	handles[0].Break(errors.New("target closed"))
	_, err = c.RunShop(context.Background(), "anua")
	var se *ShopError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PhaseSession, se.Phase)
	assert.True(t, handles[0].Closed())

	_, err = c.RunShop(context.Background(), "anua")
	require.NoError(t, err)
	assert.Len(t, handles, 2)
	assert.Equal(t, 2, c.HandleStarts())
}

func TestCoordinatorFactoryFailure(t *testing.T) {
	factory := func(ctx context.Context) (Handle, error) {
		return nil, errors.New("no chromium")
	}
	c := NewCoordinator(DefaultConfig(), factory, scrapertest.NewImages(), nil, nil, slog.Default())

	s, err := c.RunSession(context.Background(), "anua")
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, s.Result().Items)
}
