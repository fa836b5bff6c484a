package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/db/models"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/storekey"
)

type storeRepository interface {
	FindByKey(ctx context.Context, key string) (*models.Store, error)
	ListRates(ctx context.Context, storeID uuid.UUID) ([]models.StoreShippingRate, error)
	Upsert(ctx context.Context, store *models.Store) error
	ReplaceRates(ctx context.Context, storeID uuid.UUID, rates []models.StoreShippingRate) error
}

type tokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// OrderAccess is the unsealed credential for a storefront's order system.
type OrderAccess struct {
	StoreKey    string
	LocationID  string
	AccessToken string
	Currency    string
}

// Service exposes the storefront registry.
type Service interface {
	Get(ctx context.Context, key string) (*models.Store, error)
	ListRates(ctx context.Context, key string) ([]models.StoreShippingRate, error)
	AccessFor(ctx context.Context, key string) (*OrderAccess, error)
	Describe(ctx context.Context, key string) (*StoreDTO, error)
	Upsert(ctx context.Context, input UpsertStoreInput) (*StoreDTO, error)
}

type service struct {
	repo   storeRepository
	sealer tokenSealer
}

// NewService builds a store service with the provided repository and sealer.
func NewService(repo storeRepository, sealer tokenSealer) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("token sealer required")
	}
	return &service{repo: repo, sealer: sealer}, nil
}

func (s *service) Get(ctx context.Context, key string) (*models.Store, error) {
	normalized := storekey.Normalize(key)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store key is required")
	}
	store, err := s.repo.FindByKey(ctx, normalized)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("store %s not found", normalized))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	return store, nil
}

func (s *service) ListRates(ctx context.Context, key string) ([]models.StoreShippingRate, error) {
	store, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rates, err := s.repo.ListRates(ctx, store.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store rates")
	}
	return rates, nil
}

// AccessFor unseals the order-system token for the storefront.
func (s *service) AccessFor(ctx context.Context, key string) (*OrderAccess, error) {
	store, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !store.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("store %s is inactive", store.Key))
	}
	if store.SealedOrderToken == nil || *store.SealedOrderToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("store %s has no order-system credential", store.Key))
	}
	token, err := s.sealer.Open(*store.SealedOrderToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unseal order-system credential")
	}
	access := &OrderAccess{
		StoreKey:    store.Key,
		AccessToken: token,
		Currency:    store.Currency,
	}
	if store.OrderLocationID != nil {
		access.LocationID = *store.OrderLocationID
	}
	return access, nil
}

func (s *service) Describe(ctx context.Context, key string) (*StoreDTO, error) {
	store, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rates, err := s.repo.ListRates(ctx, store.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store rates")
	}
	dto := FromModel(store, rates)
	return &dto, nil
}

// Upsert registers a storefront and replaces its static rate table when rates are supplied.
func (s *service) Upsert(ctx context.Context, input UpsertStoreInput) (*StoreDTO, error) {
	key := storekey.Normalize(input.Key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store key is required")
	}
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "display name is required")
	}

	store := &models.Store{
		Key:         key,
		DisplayName: name,
		Currency:    strings.ToUpper(strings.TrimSpace(input.Currency)),
		Active:      true,
	}
	if store.Currency == "" {
		store.Currency = "USD"
	}
	if url := strings.TrimSpace(input.RateAPIURL); url != "" {
		store.RateAPIURL = &url
	}
	if loc := strings.TrimSpace(input.OrderLocationID); loc != "" {
		store.OrderLocationID = &loc
	}

	existing, err := s.repo.FindByKey(ctx, key)
	if err != nil && !dbpkg.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	switch {
	case strings.TrimSpace(input.OrderAccessToken) != "":
		sealed, err := s.sealer.Seal(strings.TrimSpace(input.OrderAccessToken))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal order-system credential")
		}
		store.SealedOrderToken = &sealed
	case existing != nil:
		store.SealedOrderToken = existing.SealedOrderToken
	}

	if err := s.repo.Upsert(ctx, store); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save store")
	}
	saved, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload store")
	}

	if input.Rates != nil {
		rates := make([]models.StoreShippingRate, 0, len(input.Rates))
		for i, rate := range input.Rates {
			row := models.StoreShippingRate{
				StoreID:     saved.ID,
				Title:       strings.TrimSpace(rate.Title),
				Code:        strings.TrimSpace(rate.Code),
				PriceCents:  rate.PriceCents,
				MinSubtotal: rate.MinSubtotalCents,
				MaxSubtotal: rate.MaxSubtotalCents,
				SortOrder:   i,
			}
			if country := strings.ToUpper(strings.TrimSpace(rate.Country)); country != "" {
				row.Country = &country
			}
			rates = append(rates, row)
		}
		if err := s.repo.ReplaceRates(ctx, saved.ID, rates); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save store rates")
		}
	}
	return s.Describe(ctx, key)
}
