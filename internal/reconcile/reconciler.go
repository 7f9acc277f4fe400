// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/metrics"
	"github.com/cartscope/cartscope/internal/models"
)

// ErrMissingToken marks a notification that carries no correlation token.
// Handlers log and drop these: never a session fabricated from insufficient
// data, never an error surfaced to the platform (which would retry forever).
var ErrMissingToken = errors.New("notification missing cart token")

// Store is the event store surface the reconciler needs. *database.DB
// implements it; tests substitute an in-memory fake.
type Store interface {
	UpsertSessionByToken(ctx context.Context, tenantID uuid.UUID, cartToken string) (*models.CartSession, error)
	GetSessionByToken(ctx context.Context, tenantID uuid.UUID, cartToken string) (*models.CartSession, error)
	UpdateSession(ctx context.Context, s *models.CartSession) error
	AppendEvent(ctx context.Context, event *models.CartEvent) (bool, error)
	ListEventsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.CartEvent, error)
	RecomputeSessionAggregates(ctx context.Context, sessionID uuid.UUID) (float64, int, error)
	HasEventOfKind(ctx context.Context, sessionID uuid.UUID, kind models.EventKind) (bool, error)
}

// Publisher delivers a session update toward the broadcast hub. The event
// bus implements it; a nil-safe no-op is used when broadcasting is disabled.
type Publisher interface {
	PublishSessionUpdate(ctx context.Context, update *models.SessionUpdate) error
}

// ImageResolver resolves a product image URL, best effort.
type ImageResolver interface {
	ResolveImage(ctx context.Context, shopDomain, productID, webhookImage string) string
}

// Reconciler owns the session lifecycle: find-or-create by token, snapshot
// differencing, funnel transitions, additive identity merge, aggregate
// recompute, and publishing the updated session toward viewers.
type Reconciler struct {
	store          Store
	images         ImageResolver
	publisher      Publisher
	namePrecedence []string
}

// New creates a Reconciler. images and publisher may be nil; both degrade to
// no-ops.
func New(store Store, images ImageResolver, publisher Publisher, identity config.IdentityConfig) *Reconciler {
	return &Reconciler{
		store:          store,
		images:         images,
		publisher:      publisher,
		namePrecedence: identity.NamePrecedence,
	}
}

// ApplyCartSnapshot reconciles a full cart snapshot notification into delta
// events and returns the updated session. Replaying the identical snapshot
// is a no-op: believed state already matches, zero events emit, nothing is
// published.
func (r *Reconciler) ApplyCartSnapshot(ctx context.Context, tenant *models.Tenant, n *models.CartNotification) (*models.CartSession, error) {
	if n.Token == "" {
		return nil, ErrMissingToken
	}

	session, err := r.store.UpsertSessionByToken(ctx, tenant.ID, n.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	history, err := r.store.ListEventsBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	deltas := DiffSnapshot(session.ID, BelievedQuantities(history), n.LineItems)

	appended := 0
	for _, event := range deltas {
		if event.Kind == models.EventCartAdd && r.images != nil {
			r.enrichImage(ctx, tenant, event)
		}
		inserted, err := r.store.AppendEvent(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("failed to append delta event: %w", err)
		}
		if !inserted {
			continue
		}
		appended++
		metrics.EventsAppended.WithLabelValues(string(event.Kind)).Inc()
		r.transition(session, event.Kind)
	}

	changed := mergeIdentity(session, identityUpdate{
		source:     SourceCheckout, // platform-reported customer id, authoritative
		customerID: n.CustomerID,
	}, r.namePrecedence)

	if appended > 0 {
		total, count, err := r.store.RecomputeSessionAggregates(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to recompute aggregates: %w", err)
		}
		session.CartTotal = total
		session.ItemCount = count
		changed = true
	}

	if changed {
		if err := r.store.UpdateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
		r.publish(ctx, tenant, session)
	}

	return session, nil
}

// ApplyPixelEvent reconciles a storefront pixel beacon. Beacons feed the
// same append paths as platform webhooks — page views, client-reported cart
// mutations, checkout signals — keyed by the beacon's event ID so re-fired
// beacons stay idempotent, and every beacon enriches identity/attribution
// additively.
func (r *Reconciler) ApplyPixelEvent(ctx context.Context, tenant *models.Tenant, p *models.PixelEvent) (*models.CartSession, error) {
	token := p.CartToken
	if token == "" {
		if p.VisitorID == "" {
			return nil, ErrMissingToken
		}
		// Pixel sessions without a cart yet key on the visitor.
		token = "visitor:" + p.VisitorID
	}

	session, err := r.store.UpsertSessionByToken(ctx, tenant.ID, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	changed := r.applyPixelAttribution(session, p)

	switch p.Name {
	case models.PixelPageView:
		inserted, err := r.store.AppendEvent(ctx, &models.CartEvent{
			SessionID: session.ID,
			Kind:      models.EventPageView,
			DedupeKey: p.EventDedupeKey(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to append page view: %w", err)
		}
		if inserted {
			metrics.EventsAppended.WithLabelValues(string(models.EventPageView)).Inc()
		}
		// A page view while mid-checkout signals the shopper backed out.
		if inserted && session.FunnelState == models.StateCheckout {
			if _, err := r.store.AppendEvent(ctx, &models.CartEvent{
				SessionID: session.ID,
				Kind:      models.EventCheckoutAbandoned,
			}); err != nil {
				return nil, fmt.Errorf("failed to append abandonment event: %w", err)
			}
			metrics.EventsAppended.WithLabelValues(string(models.EventCheckoutAbandoned)).Inc()
			changed = r.transition(session, models.EventCheckoutAbandoned) || changed
		}
	case models.PixelCartAdd, models.PixelCartRemove:
		applied, err := r.applyPixelCartMutation(ctx, session, p)
		if err != nil {
			return nil, err
		}
		changed = applied || changed
	case models.PixelCheckoutStarted:
		inserted, err := r.store.AppendEvent(ctx, &models.CartEvent{
			SessionID: session.ID,
			Kind:      models.EventCheckoutStarted,
			DedupeKey: models.CheckoutStartedDedupeKey(session.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to append checkout event: %w", err)
		}
		if inserted {
			metrics.EventsAppended.WithLabelValues(string(models.EventCheckoutStarted)).Inc()
		}
		changed = r.transition(session, models.EventCheckoutStarted) || changed
	case models.PixelCheckoutCompleted:
		if session.FunnelState != models.StateConverted {
			if _, err := r.store.AppendEvent(ctx, &models.CartEvent{
				SessionID: session.ID,
				Kind:      models.EventCheckoutCompleted,
				DedupeKey: "checkout_completed:" + session.ID.String(),
			}); err != nil {
				return nil, fmt.Errorf("failed to append completion event: %w", err)
			}
			metrics.EventsAppended.WithLabelValues(string(models.EventCheckoutCompleted)).Inc()
			changed = r.transition(session, models.EventCheckoutCompleted) || changed
		}
	}

	if changed {
		if err := r.store.UpdateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
		r.publish(ctx, tenant, session)
	}

	return session, nil
}

// applyPixelCartMutation appends a client-reported cart delta through the
// same idempotent path as webhook deltas and refreshes the session's
// aggregates. A beacon without a quantity counts as one unit. Reports
// whether the event was newly inserted.
func (r *Reconciler) applyPixelCartMutation(ctx context.Context, session *models.CartSession, p *models.PixelEvent) (bool, error) {
	kind := models.EventCartAdd
	if p.Name == models.PixelCartRemove {
		kind = models.EventCartRemove
	}
	qty := p.Quantity
	if qty <= 0 {
		qty = 1
	}
	event := &models.CartEvent{
		SessionID: session.ID,
		Kind:      kind,
		Quantity:  qty,
		Price:     p.Price,
		DedupeKey: p.EventDedupeKey(),
	}
	setIfNotEmpty(&event.ProductID, p.ProductID)
	setIfNotEmpty(&event.VariantID, p.VariantID)
	setIfNotEmpty(&event.Title, p.Title)

	inserted, err := r.store.AppendEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("failed to append pixel cart event: %w", err)
	}
	if !inserted {
		return false, nil
	}
	metrics.EventsAppended.WithLabelValues(string(kind)).Inc()
	r.transition(session, kind)

	total, count, err := r.store.RecomputeSessionAggregates(ctx, session.ID)
	if err != nil {
		return false, fmt.Errorf("failed to recompute aggregates: %w", err)
	}
	session.CartTotal = total
	session.ItemCount = count
	return true, nil
}

// applyPixelAttribution fills attribution, device and bot fields additively.
func (r *Reconciler) applyPixelAttribution(s *models.CartSession, p *models.PixelEvent) bool {
	changed := fillString(&s.VisitorID, p.VisitorID)
	changed = fillString(&s.Referrer, p.Referrer) || changed
	changed = fillString(&s.LandingPage, p.LandingPage) || changed
	changed = fillString(&s.UTMSource, p.UTMSource) || changed
	changed = fillString(&s.UTMMedium, p.UTMMedium) || changed
	changed = fillString(&s.UTMCampaign, p.UTMCampaign) || changed
	changed = fillString(&s.DeviceType, p.DeviceType) || changed
	changed = fillString(&s.UserAgent, p.UserAgent) || changed

	changed = mergeIdentity(s, identityUpdate{
		source:  SourcePixel,
		city:    p.City,
		country: p.Country,
	}, r.namePrecedence) || changed

	// Bot verdict is sticky: once suspected, never cleared by later traffic.
	if p.SuspectedBot && !s.SuspectedBot {
		s.SuspectedBot = true
		if p.BotReason != "" {
			v := p.BotReason
			s.BotReason = &v
		}
		changed = true
	}

	return changed
}

// transition applies a funnel transition for an event kind, recording the
// metric. Returns whether the state moved.
func (r *Reconciler) transition(session *models.CartSession, kind models.EventKind) bool {
	next, moved := session.FunnelState.TransitionOn(kind)
	if !moved {
		return false
	}
	r.recordTransition(session.FunnelState, next)
	session.FunnelState = next
	return true
}

func (r *Reconciler) recordTransition(from, to models.FunnelState) {
	metrics.FunnelTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// publish pushes the session, with its full event history attached, toward
// the live dashboard. Failures are logged and swallowed: broadcast is
// best-effort and must never fail the notification.
func (r *Reconciler) publish(ctx context.Context, tenant *models.Tenant, session *models.CartSession) {
	if r.publisher == nil {
		return
	}

	events, err := r.store.ListEventsBySession(ctx, session.ID)
	if err != nil {
		logging.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Failed to load history for broadcast")
		events = nil
	}
	session.Events = events

	update := &models.SessionUpdate{
		Session:   session,
		HighValue: session.CartTotal >= tenant.HighValueThreshold && tenant.HighValueThreshold > 0,
	}
	if err := r.publisher.PublishSessionUpdate(ctx, update); err != nil {
		logging.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Failed to publish session update")
	}
}

// enrichImage fills a cart_add event's image, best effort.
func (r *Reconciler) enrichImage(ctx context.Context, tenant *models.Tenant, event *models.CartEvent) {
	productID := ""
	if event.ProductID != nil {
		productID = *event.ProductID
	}
	current := ""
	if event.ImageURL != nil {
		current = *event.ImageURL
	}
	resolved := r.images.ResolveImage(ctx, tenant.ShopDomain, productID, current)
	if resolved != "" && resolved != current {
		event.ImageURL = &resolved
	}
}
