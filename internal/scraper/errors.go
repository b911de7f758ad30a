package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigationTimeout means a page or element did not reach the
	// expected state within the wait bound.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrExtractionEmpty means an expected text or attribute was missing.
	ErrExtractionEmpty = errors.New("extraction empty")
	// ErrMissingDetailURL means a listing entry has no link to its detail
	// page. Unlike ErrExtractionEmpty it fails the shop.
	ErrMissingDetailURL = errors.New("listing entry has no detail URL")
	ErrInvalidShop      = errors.New("invalid shop identifier")
)

const (
	PhaseSession = "session"
	PhaseListing = "listing"
	PhaseEnrich  = "enrich"
)

// ShopError is an unrecovered failure while processing one shop.
type ShopError struct {
	Shop  string
	Phase string
	Err   error
}

func (e *ShopError) Error() string {
	return fmt.Sprintf("shop %s failed during %s: %v", e.Shop, e.Phase, e.Err)
}

func (e *ShopError) Unwrap() error {
	return e.Err
}

func navTimeout(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNavigationTimeout, what, err)
}
