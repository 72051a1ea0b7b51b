package accounting

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/etnz/folio"
	"github.com/etnz/folio/store"
	"go.uber.org/zap"
)

// ErrNoPrices is returned by CheckAlerts without a price source.
var ErrNoPrices = errors.New("no price source")

// AlertInput is a price alert to record.
type AlertInput struct {
	Asset     string
	Condition folio.Condition
	Threshold folio.Money // the price to reach, in the currency to watch
	Enabled   bool
}

// alert validates in and returns it as an alert of owner.
func (s *System) alert(owner string, in AlertInput) (store.Alert, error) {
	a := store.Alert{
		Owner:     owner,
		Asset:     folio.NormalizeSymbol(in.Asset),
		Condition: in.Condition,
		Threshold: in.Threshold,
		Enabled:   in.Enabled,
	}
	switch {
	case owner == "":
		return store.Alert{}, &folio.ValidationError{Field: "owner", Reason: "owner is missing"}
	case a.Asset == "":
		return store.Alert{}, &folio.ValidationError{Field: "asset", Reason: "asset is missing"}
	case !a.Threshold.IsPositive():
		return store.Alert{}, &folio.ValidationError{Field: "threshold", Reason: fmt.Sprintf("%v is not positive", a.Threshold.Decimal())}
	}
	if _, err := folio.ParseCondition(a.Condition.String()); err != nil {
		return store.Alert{}, err
	}
	if _, err := folio.ParseCurrency(a.Currency()); err != nil {
		return store.Alert{}, err
	}
	if err := s.asset(a.Asset); err != nil {
		return store.Alert{}, err
	}
	return a, nil
}

// CreateAlert records a price alert for owner.
func (s *System) CreateAlert(ctx context.Context, owner string, in AlertInput) (store.Alert, error) {
	a, err := s.alert(owner, in)
	if err != nil {
		return store.Alert{}, err
	}
	a.CreatedAt = s.now()
	a, err = s.store.CreateAlert(ctx, a)
	if err != nil {
		return store.Alert{}, err
	}
	s.logger.Debug("alert created", zap.String("id", a.ID), zap.String("asset", a.Asset),
		zap.Stringer("condition", a.Condition), zap.Stringer("threshold", a.Threshold))
	return a, nil
}

// Alert returns the alert id of owner.
func (s *System) Alert(ctx context.Context, owner, id string) (store.Alert, error) {
	return s.store.Alert(ctx, owner, id)
}

// Alerts lists the alerts of owner, newest first.
func (s *System) Alerts(ctx context.Context, owner string) ([]store.Alert, error) {
	return s.store.Alerts(ctx, owner)
}

// UpdateAlert replaces the alert id of owner, keeping its trigger time.
func (s *System) UpdateAlert(ctx context.Context, owner, id string, in AlertInput) (store.Alert, error) {
	a, err := s.alert(owner, in)
	if err != nil {
		return store.Alert{}, err
	}
	existing, err := s.store.Alert(ctx, owner, id)
	if err != nil {
		return store.Alert{}, err
	}
	a.ID, a.CreatedAt, a.LastTriggeredAt = id, existing.CreatedAt, existing.LastTriggeredAt
	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return store.Alert{}, err
	}
	return a, nil
}

// SetAlertEnabled turns the alert id of owner on or off.
func (s *System) SetAlertEnabled(ctx context.Context, owner, id string, enabled bool) (store.Alert, error) {
	a, err := s.store.Alert(ctx, owner, id)
	if err != nil {
		return store.Alert{}, err
	}
	a.Enabled = enabled
	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return store.Alert{}, err
	}
	return a, nil
}

// DeleteAlert deletes the alert id of owner.
func (s *System) DeleteAlert(ctx context.Context, owner, id string) error {
	return s.store.DeleteAlert(ctx, owner, id)
}

// CheckAlerts evaluates the enabled alerts of owner against current prices,
// and returns those triggered, their trigger time set to now. Alerts without
// a price are left as they are.
func (s *System) CheckAlerts(ctx context.Context, owner string) ([]store.Alert, error) {
	if s.prices == nil {
		return nil, ErrNoPrices
	}
	alerts, err := s.store.Alerts(ctx, owner)
	if err != nil {
		return nil, err
	}

	watched := make(map[folio.Currency][]string)
	for _, a := range alerts {
		cur := folio.Currency(a.Currency())
		if a.Enabled && !slices.Contains(watched[cur], a.Asset) {
			watched[cur] = append(watched[cur], a.Asset)
		}
	}
	quotes := make(map[folio.Currency]folio.Quotes, len(watched))
	for cur, symbols := range watched {
		slices.Sort(symbols)
		q, err := s.prices.Quotes(ctx, symbols, cur)
		if err != nil {
			return nil, fmt.Errorf("cannot get prices in %s: %w", cur, err)
		}
		quotes[cur] = q
	}

	var triggered []store.Alert
	now := s.now().UTC()
	for _, a := range alerts {
		if !a.Enabled {
			continue
		}
		price, ok := quotes[folio.Currency(a.Currency())][a.Asset].Get()
		if !ok || !a.Condition.Triggered(price, a.Threshold) {
			continue
		}
		a.LastTriggeredAt = now
		if err := s.store.UpdateAlert(ctx, a); err != nil {
			return nil, err
		}
		s.triggered.Inc()
		s.logger.Info("alert triggered", zap.String("id", a.ID), zap.String("asset", a.Asset),
			zap.Stringer("price", price), zap.Stringer("threshold", a.Threshold))
		triggered = append(triggered, a)
	}
	return triggered, nil
}
