package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/imc400/tuka-backend/pkg/checkout"
	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/ratesource"
	"github.com/imc400/tuka-backend/pkg/storekey"
	"github.com/imc400/tuka-backend/pkg/types"
)

const defaultOptionCode = "tuka-default"

type storeDirectory interface {
	Get(ctx context.Context, key string) (*models.Store, error)
	ListRates(ctx context.Context, key string) ([]models.StoreShippingRate, error)
}

type rateSource interface {
	Fetch(ctx context.Context, endpoint string, req ratesource.Request) ([]ratesource.Rate, error)
}

type quoteCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	QuoteKey(quoteID string) string
}

// Service builds per-storefront shipping menus and resolves buyer picks
// against the cached menu.
type Service interface {
	Quote(ctx context.Context, req QuoteRequest) (*QuoteSet, error)
	Resolve(ctx context.Context, quoteID string, lines types.CartLines, picks []Pick) (types.ShippingSelections, error)
}

// ServiceParams wires the aggregator.
type ServiceParams struct {
	Config  config.ShippingConfig
	Stores  storeDirectory
	Source  rateSource
	Cache   quoteCache
	Logger  *logger.Logger
	Metrics *metrics.SettlementMetrics
}

type service struct {
	cfg     config.ShippingConfig
	stores  storeDirectory
	source  rateSource
	cache   quoteCache
	logg    *logger.Logger
	metrics *metrics.SettlementMetrics
	now     func() time.Time
}

// NewService validates dependencies and returns a rate aggregator.
func NewService(params ServiceParams) (Service, error) {
	if params.Stores == nil {
		return nil, fmt.Errorf("store directory required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("rate source required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("quote cache required")
	}
	cfg := params.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.PerStoreTimeout <= 0 {
		cfg.PerStoreTimeout = 3 * time.Second
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 30 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if strings.TrimSpace(cfg.FallbackTitle) == "" {
		cfg.FallbackTitle = "Standard shipping"
	}
	return &service{
		cfg:     cfg,
		stores:  params.Stores,
		source:  params.Source,
		cache:   params.Cache,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// Quote prices every storefront concurrently. A storefront that cannot be
// priced carries its own error; siblings are unaffected.
func (s *service) Quote(ctx context.Context, req QuoteRequest) (*QuoteSet, error) {
	if err := checkout.ValidateLines(req.Lines); err != nil {
		return nil, err
	}
	country := strings.ToUpper(strings.TrimSpace(req.Address.Country))
	if country == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address country is required")
	}
	groups := checkout.GroupByStore(req.Lines)

	pollCtx := ctx
	if s.cfg.OverallBudget > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.cfg.OverallBudget)
		defer cancel()
	}

	results := make([]StoreQuote, len(groups))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, group := range groups {
		g.Go(func() error {
			results[i] = s.quoteStore(ctx, pollCtx, group, req.Address)
			return nil
		})
	}
	_ = g.Wait()

	set := &QuoteSet{
		QuoteID:   uuid.NewString(),
		Country:   country,
		ExpiresAt: s.now().Add(s.cfg.QuoteTTL).UTC(),
		Stores:    results,
	}
	payload, err := json.Marshal(set)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode quote set")
	}
	if err := s.cache.Set(ctx, s.cache.QuoteKey(set.QuoteID), payload, s.cfg.QuoteTTL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cache quote set")
	}
	return set, nil
}

func (s *service) quoteStore(ctx, pollCtx context.Context, group checkout.StoreGroup, address types.ShippingAddress) StoreQuote {
	quote := StoreQuote{StoreKey: group.StoreKey, SubtotalCents: group.SubtotalCents, Options: []Option{}}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithStoreKey(ctx, group.StoreKey)
	}

	store, err := s.stores.Get(ctx, group.StoreKey)
	if err != nil {
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
			s.warn(logCtx, "store lookup failed; falling back", err)
		}
		store = nil
	}

	if store != nil && store.RateAPIURL != nil && strings.TrimSpace(*store.RateAPIURL) != "" {
		options, err := s.realtime(pollCtx, store, group, address)
		if err != nil {
			s.warn(logCtx, "real-time rate source failed", err)
		} else if len(options) > 0 {
			quote.Options = options
			s.metrics.RateQuote(string(enums.RateSourceRealtime))
			return quote
		}
	}

	if store != nil {
		rows, err := s.stores.ListRates(ctx, store.Key)
		if err != nil {
			s.warn(logCtx, "static rate table unavailable", err)
		} else if options := staticOptions(rows, group.SubtotalCents, address.Country); len(options) > 0 {
			quote.Options = options
			s.metrics.RateQuote(string(enums.RateSourceStatic))
			return quote
		}
	}

	if group.SubtotalCents >= s.cfg.FallbackCeilingCents {
		quote.Error = &types.StoreError{
			StoreKey: group.StoreKey,
			Code:     string(pkgerrors.CodeDependency),
			Message:  fmt.Sprintf("no verified shipping rate for %s and subtotal exceeds the fallback ceiling", group.StoreKey),
		}
		s.metrics.RateQuote("unavailable")
		return quote
	}
	quote.Options = []Option{{
		Code:       defaultOptionCode,
		Title:      s.cfg.FallbackTitle,
		PriceCents: s.cfg.FallbackPriceCents,
		Source:     enums.RateSourceDefault,
	}}
	s.metrics.RateQuote(string(enums.RateSourceDefault))
	return quote
}

// realtime polls the storefront's rate API within the per-store timeout,
// retrying transient failures with exponential backoff.
func (s *service) realtime(ctx context.Context, store *models.Store, group checkout.StoreGroup, address types.ShippingAddress) ([]Option, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PerStoreTimeout)
	defer cancel()

	req := ratesource.Request{
		Destination: ratesource.Destination{
			Line1:      address.Line1,
			Line2:      address.Line2,
			City:       address.City,
			Region:     address.Region,
			PostalCode: address.PostalCode,
			Country:    strings.ToUpper(address.Country),
		},
		SubtotalCents: group.SubtotalCents,
		Grams:         group.Grams,
		Currency:      store.Currency,
	}
	for _, line := range group.Lines {
		req.Items = append(req.Items, ratesource.Item{
			VariantID:  line.VariantID,
			Quantity:   line.Quantity,
			Grams:      line.Grams,
			PriceCents: line.UnitPriceCents,
		})
	}

	started := s.now()
	var fetched []ratesource.Rate
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.NewExponential(s.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rates, err := s.source.Fetch(ctx, *store.RateAPIURL, req)
		if err != nil {
			if ratesource.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		fetched = rates
		return nil
	})
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
	} else if len(fetched) == 0 {
		result = "empty"
	}
	s.metrics.ObserveRateSource(result, s.now().Sub(started).Seconds())
	if err != nil {
		return nil, err
	}

	options := make([]Option, 0, len(fetched))
	for _, rate := range fetched {
		options = append(options, Option{
			Code:       rate.Code,
			Title:      rate.Title,
			PriceCents: rate.PriceCents,
			Source:     enums.RateSourceRealtime,
		})
	}
	return options, nil
}

func staticOptions(rows []models.StoreShippingRate, subtotal int64, country string) []Option {
	country = strings.ToUpper(strings.TrimSpace(country))
	var options []Option
	for _, row := range rows {
		if row.Country != nil && *row.Country != "" && !strings.EqualFold(*row.Country, country) {
			continue
		}
		if subtotal < row.MinSubtotal {
			continue
		}
		if row.MaxSubtotal != nil && subtotal > *row.MaxSubtotal {
			continue
		}
		options = append(options, Option{
			Code:       row.Code,
			Title:      row.Title,
			PriceCents: row.PriceCents,
			Source:     enums.RateSourceStatic,
		})
	}
	return options
}

// Resolve turns the buyer's picks into verified selections copied from the
// cached quote set. The cart must still match what was quoted, and every
// storefront in it needs a priced quote and exactly one pick.
func (s *service) Resolve(ctx context.Context, quoteID string, lines types.CartLines, picks []Pick) (types.ShippingSelections, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote_id is required; request shipping quotes first")
	}
	raw, err := s.cache.Get(ctx, s.cache.QuoteKey(quoteID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping quote expired or unknown; request new quotes")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load quote set")
	}
	var set QuoteSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode quote set")
	}

	subtotals := make(map[string]int64)
	for _, group := range checkout.GroupByStore(lines) {
		subtotals[group.StoreKey] = group.SubtotalCents
	}

	seen := make(map[string]struct{}, len(picks))
	selections := make(types.ShippingSelections, 0, len(picks))
	for _, pick := range picks {
		key := storekey.Normalize(pick.StoreKey)
		if _, dup := seen[key]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate shipping selection for %s", key))
		}
		seen[key] = struct{}{}

		quoted, ok := set.store(key)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("store %s was not quoted", key))
		}
		subtotal, inCart := subtotals[key]
		if !inCart {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("store %s is not in the cart", key))
		}
		if subtotal != quoted.SubtotalCents {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cart for %s changed since it was quoted", key))
		}
		option, found := findOption(quoted.Options, pick.Code)
		if !found {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping option %q is not available for %s", pick.Code, key))
		}
		selections = append(selections, types.ShippingSelection{
			StoreKey:   key,
			Code:       option.Code,
			Title:      option.Title,
			PriceCents: option.PriceCents,
			Source:     option.Source,
		})
	}

	if err := uncovered(&set, subtotals, seen); err != nil {
		return nil, err
	}
	return selections, nil
}

// uncovered rejects carts that would leave a storefront without a verified
// shipping line: one whose quote carried an error, or one that was offered
// options but not picked.
func uncovered(set *QuoteSet, subtotals map[string]int64, picked map[string]struct{}) error {
	var unpriced, unpicked []string
	for key := range subtotals {
		quoted, ok := set.store(key)
		switch {
		case !ok:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("store %s was not quoted; request new quotes", key))
		case quoted.Error != nil:
			unpriced = append(unpriced, key)
		default:
			if _, ok := picked[key]; !ok {
				unpicked = append(unpicked, key)
			}
		}
	}
	if len(unpriced) == 0 && len(unpicked) == 0 {
		return nil
	}
	sort.Strings(unpriced)
	sort.Strings(unpicked)
	return pkgerrors.New(pkgerrors.CodeValidation, "every storefront needs a verified shipping selection").
		WithDetails(map[string][]string{"unpriced": unpriced, "unselected": unpicked})
}

func findOption(options []Option, code string) (Option, bool) {
	code = strings.TrimSpace(code)
	for _, opt := range options {
		if opt.Code == code {
			return opt, true
		}
	}
	return Option{}, false
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}
