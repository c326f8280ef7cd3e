package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/locks"
	"callcenter/internal/metrics"
	"callcenter/internal/telephony"

	"github.com/google/uuid"
)

// Placer is the part of the telephony adapter the dialer drives.
type Placer interface {
	PlaceCall(ctx context.Context, to, from, callbackURL string) (string, error)
	Hangup(ctx context.Context, providerCallID string) error
}

type Config struct {
	Campaigns []Campaign
	// StatusCallbackURL receives provider status events for placed calls.
	StatusCallbackURL string
}

// TickResult summarizes one dialer pass over a campaign.
type TickResult struct {
	Capacity int
	Eligible int
	Placed   int
}

// Dialer paces outbound campaign calls.
//
// A tick claims contacts and creates their calls while holding the campaign lock, so
// the live-call count seen by a concurrent tick already includes them. Placement with
// the provider happens after the lock is released.
type Dialer struct {
	calls    *calls.Store
	contacts ContactRepository
	placer   Placer
	locks    locks.Locker

	mu        sync.RWMutex
	campaigns map[string]Campaign

	callbackURL string
	log         *slog.Logger
	clock       func() time.Time
}

func New(store *calls.Store, contacts ContactRepository, placer Placer, locker locks.Locker, cfg Config, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	d := &Dialer{
		calls:       store,
		contacts:    contacts,
		placer:      placer,
		locks:       locker,
		campaigns:   map[string]Campaign{},
		callbackURL: cfg.StatusCallbackURL,
		log:         log,
		clock:       time.Now,
	}
	for _, c := range cfg.Campaigns {
		d.campaigns[c.ID] = c
	}
	return d
}

// SetClock replaces the time source; intended for tests.
func (d *Dialer) SetClock(clock func() time.Time) { d.clock = clock }

// Attach subscribes the dialer to call changes so contacts are settled when calls end.
func (d *Dialer) Attach() { d.calls.Subscribe(d) }

func (d *Dialer) Campaign(id string) (Campaign, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.campaigns[id]
	return c, ok
}

// SetActive pauses or resumes a campaign.
func (d *Dialer) SetActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.campaigns[id]
	if !ok {
		return ErrUnknownCampaign
	}
	c.Active = active
	d.campaigns[id] = c
	return nil
}

// AddContact registers a new PENDING contact on a campaign.
func (d *Dialer) AddContact(ctx context.Context, c Contact) (Contact, error) {
	camp, ok := d.Campaign(c.CampaignID)
	if !ok {
		return Contact{}, ErrUnknownCampaign
	}
	phone, err := telephony.NormalizeE164(c.Phone)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return Contact{}, fmt.Errorf("%w: timezone %q", ErrInvalidArgument, c.Timezone)
		}
	}
	now := d.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Phone = phone
	c.WorkspaceID = camp.WorkspaceID
	c.Status = ContactPending
	c.Attempts = 0
	c.LastAttempt = nil
	c.NextAttemptAt = nil
	c.LastCallID = ""
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := d.contacts.Create(ctx, c); err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (d *Dialer) Contacts(ctx context.Context, campaignID string) ([]Contact, error) {
	if _, ok := d.Campaign(campaignID); !ok {
		return nil, ErrUnknownCampaign
	}
	return d.contacts.ListByCampaign(ctx, campaignID)
}

// TickAll runs one tick per active campaign. It is safe to call concurrently.
func (d *Dialer) TickAll(ctx context.Context) {
	d.mu.RLock()
	ids := make([]string, 0, len(d.campaigns))
	for id, c := range d.campaigns {
		if c.Active {
			ids = append(ids, id)
		}
	}
	d.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := d.Tick(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("dialer tick failed", "campaign_id", id, "err", err)
		}
	}
}

type claim struct {
	contact Contact
	callID  string
}

// Tick dials as many eligible contacts of one campaign as its capacity allows.
func (d *Dialer) Tick(ctx context.Context, campaignID string) (TickResult, error) {
	camp, ok := d.Campaign(campaignID)
	if !ok {
		return TickResult{}, ErrUnknownCampaign
	}
	if !camp.Active {
		return TickResult{}, nil
	}

	res, claims, err := d.claim(ctx, camp)
	if err != nil {
		return res, err
	}
	for _, c := range claims {
		if d.place(ctx, camp, c) {
			res.Placed++
		}
	}
	if res.Placed > 0 {
		d.log.Info("dialer tick", "campaign_id", camp.ID, "capacity", res.Capacity, "eligible", res.Eligible, "placed", res.Placed)
	}
	return res, nil
}

// claim runs under the campaign lock: it reserves up to capacity contacts and creates
// a DIALING call for each.
func (d *Dialer) claim(ctx context.Context, camp Campaign) (TickResult, []claim, error) {
	unlock, err := d.locks.Lock(ctx, locks.CampaignKey(camp.ID))
	if err != nil {
		return TickResult{}, nil, err
	}
	defer unlock()

	live, err := d.calls.CountLiveByCampaign(ctx, camp.ID)
	if err != nil {
		return TickResult{}, nil, err
	}
	res := TickResult{Capacity: max(0, camp.MaxConcurrentCalls-live)}
	if res.Capacity == 0 {
		return res, nil, nil
	}

	now := d.clock().UTC()
	pending, err := d.contacts.ListPending(ctx, camp.ID, now, 0)
	if err != nil {
		return res, nil, err
	}
	eligible := make([]Contact, 0, len(pending))
	for _, c := range pending {
		if d.eligible(camp, c, now) {
			eligible = append(eligible, c)
		}
	}
	res.Eligible = len(eligible)
	if res.Eligible == 0 {
		// Due contacts held back by cooldown or window; an empty list is just a drained campaign.
		if len(pending) > 0 {
			metrics.DialerStalls.WithLabelValues(camp.ID).Inc()
			d.log.Warn("dialer has capacity but no eligible contacts", "campaign_id", camp.ID, "capacity", res.Capacity, "pending", len(pending))
		}
		return res, nil, nil
	}

	claims := make([]claim, 0, res.Capacity)
	for _, c := range eligible {
		if len(claims) == res.Capacity {
			break
		}
		cl, err := d.claimContact(ctx, camp, c, now)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			d.log.Error("claim contact failed", "campaign_id", camp.ID, "contact_id", c.ID, "err", err)
			continue
		}
		claims = append(claims, cl)
	}
	return res, claims, nil
}

func (d *Dialer) eligible(camp Campaign, c Contact, now time.Time) bool {
	if c.Status != ContactPending || c.Attempts >= camp.MaxAttempts {
		return false
	}
	if c.NextAttemptAt != nil && now.Before(*c.NextAttemptAt) {
		return false
	}
	if c.LastAttempt != nil && now.Sub(*c.LastAttempt) < camp.Cooldown {
		return false
	}
	return camp.Window.Contains(now.In(contactLocation(c)))
}

func contactLocation(c Contact) *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// claimContact moves a contact PENDING → IN_PROGRESS with a version check and creates
// its call. A lost race surfaces as ErrVersionConflict.
func (d *Dialer) claimContact(ctx context.Context, camp Campaign, c Contact, now time.Time) (claim, error) {
	callID := uuid.NewString()
	next := c.clone()
	next.Status = ContactInProgress
	next.Attempts++
	next.LastAttempt = &now
	next.NextAttemptAt = nil
	next.LastCallID = callID
	next.UpdatedAt = now
	if err := d.contacts.Update(ctx, next, c.Version); err != nil {
		return claim{}, err
	}
	next.Version = c.Version + 1

	_, err := d.calls.Create(ctx, calls.Call{
		ID:          callID,
		WorkspaceID: camp.WorkspaceID,
		Direction:   calls.DirectionOutbound,
		From:        camp.CallerID,
		To:          c.Phone,
		CampaignID:  camp.ID,
		ContactID:   c.ID,
		Metadata:    map[string]string{calls.MetaQueueID: camp.QueueID},
	})
	if err != nil {
		// Hand the contact back untouched so the next tick can retry it.
		if rerr := d.contacts.Update(ctx, c, next.Version); rerr != nil {
			d.log.Error("revert contact claim failed", "contact_id", c.ID, "err", rerr)
		}
		return claim{}, err
	}
	return claim{contact: next, callID: callID}, nil
}

// place asks the provider for the call. Failures are recorded on the call; the
// contact is settled by CallChanged like any other terminal call.
func (d *Dialer) place(ctx context.Context, camp Campaign, cl claim) bool {
	pid, err := d.placer.PlaceCall(ctx, cl.contact.Phone, camp.CallerID, d.callbackURL)
	if err != nil {
		reason := telephony.FailureReason(err)
		d.log.Warn("campaign call placement failed", "campaign_id", camp.ID, "contact_id", cl.contact.ID, "call_id", cl.callID, "reason", reason, "err", err)
		if _, ferr := d.calls.Apply(ctx, cl.callID, calls.Event{Type: calls.EventFail, Payload: calls.Payload{Reason: reason}}); ferr != nil {
			d.log.Error("record placement failure failed", "call_id", cl.callID, "err", ferr)
		}
		return false
	}

	metrics.DialerPlaced.WithLabelValues(camp.ID).Inc()
	_, hangup, err := d.calls.AttachProviderCall(ctx, cl.callID, pid)
	if err != nil {
		d.log.Error("attach provider call failed", "call_id", cl.callID, "provider_call_id", pid, "err", err)
		return true
	}
	if hangup {
		if err := d.placer.Hangup(ctx, pid); err != nil {
			d.log.Warn("deferred hangup failed", "call_id", cl.callID, "provider_call_id", pid, "err", err)
		}
	}
	return true
}

// CallChanged settles the contact behind a campaign call that reached a terminal state.
func (d *Dialer) CallChanged(ctx context.Context, ch calls.Change) {
	c := ch.Next
	if c.ContactID == "" || !c.Status.Terminal() || ch.Prev.Status.Terminal() {
		return
	}
	camp, ok := d.Campaign(c.CampaignID)
	if !ok {
		d.log.Warn("terminal call for unknown campaign", "call_id", c.ID, "campaign_id", c.CampaignID)
		return
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := d.settle(ctx, camp, c)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			d.log.Error("settle contact failed", "contact_id", c.ContactID, "call_id", c.ID, "err", err)
		}
		return
	}
	d.log.Error("settle contact gave up after version conflicts", "contact_id", c.ContactID, "call_id", c.ID)
}

func (d *Dialer) settle(ctx context.Context, camp Campaign, call calls.Call) error {
	cur, err := d.contacts.Get(ctx, call.ContactID)
	if err != nil {
		return err
	}
	if cur.Status != ContactInProgress || cur.LastCallID != call.ID {
		return nil
	}
	now := d.clock().UTC()
	next := cur.clone()
	next.UpdatedAt = now
	switch {
	case call.Status == calls.StatusCompleted:
		next.Status = ContactCompleted
	case cur.Attempts >= camp.MaxAttempts || call.FailureReason == calls.ReasonInvalidNumber:
		next.Status = ContactExhausted
	default:
		next.Status = ContactPending
		at := now.Add(camp.RetryDelay)
		next.NextAttemptAt = &at
	}
	if err := d.contacts.Update(ctx, next, cur.Version); err != nil {
		return err
	}
	d.log.Info("contact settled", "contact_id", cur.ID, "call_id", call.ID, "call_status", call.Status, "contact_status", next.Status, "attempts", next.Attempts)
	return nil
}
