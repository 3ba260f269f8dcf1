// Package dialog drives one customer's conversation turn by turn: it merges
// newly parsed fields into the session, decides the next question or offer,
// and hands confirmed choices to the booking layer.
package dialog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"prenotabot/internal/availability"
	"prenotabot/internal/booking"
	"prenotabot/internal/matcher"
	"prenotabot/internal/models"
	"prenotabot/internal/session"
	"prenotabot/internal/timeparse"
)

// Options tune the engine.
type Options struct {
	MaxCandidates int // offers per list
	HorizonDays   int // search lookahead
}

// Engine is the dialogue state machine. One HandleTurn call per inbound
// message; all work completes within that call.
type Engine struct {
	search    *availability.Searcher
	confirmer *booking.Confirmer
	sessions  session.Store
	customers booking.CustomerStore
	logger    *zerolog.Logger
	opts      Options
	now       func() time.Time
}

// NewEngine wires the engine dependencies.
func NewEngine(search *availability.Searcher, confirmer *booking.Confirmer, sessions session.Store,
	customers booking.CustomerStore, logger *zerolog.Logger, opts Options) *Engine {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = availability.DefaultLimit
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = availability.DefaultHorizonDays
	}
	return &Engine{
		search:    search,
		confirmer: confirmer,
		sessions:  sessions,
		customers: customers,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// HandleTurn processes one inbound message for a resolved shop and returns
// the outbound reply. Collaborator failures degrade to an apology and leave
// the stored session untouched so the customer can simply retry.
func (e *Engine) HandleTurn(ctx context.Context, cfg models.ShopConfig, phone, text string) (string, error) {
	now := e.now().In(cfg.Shop.Location())
	norm := timeparse.Normalize(text)

	sess, err := e.sessions.Get(ctx, cfg.Shop.ID, phone)
	if err != nil {
		e.logger.Error().Err(err).Str("shop", cfg.Shop.ID).Msg("session load failed")
		return msgApology(), nil
	}
	if sess == nil {
		sess = session.New(cfg.Shop.ID, phone)
	}

	// Cancel-class input wins over everything, in any state.
	if isCancel(norm) {
		if err := e.sessions.Clear(ctx, cfg.Shop.ID, phone); err != nil {
			e.logger.Warn().Err(err).Msg("session clear failed")
		}
		return msgCancelled(), nil
	}

	svc := matcher.Match(text, cfg.ActiveServices())
	tinfo := timeparse.Parse(text, now)
	pref, excl := operatorPrefs(norm, cfg.ActiveOperators())
	hasNew := svc != nil || tinfo.HasDate() || tinfo.HasTimeInfo() || pref != "" || len(excl) > 0

	if sess.State == session.StateIdle && isGreeting(norm) && !hasNew {
		lastService := ""
		if cust, cerr := e.customers.Customer(ctx, cfg.Shop.ID, phone); cerr == nil && cust != nil {
			lastService = cust.LastService
		}
		return msgWelcome(cfg.Shop.Name, lastService), nil
	}

	switch sess.State {
	case session.StateConfirm:
		return e.handleConfirmState(ctx, cfg, sess, norm, svc, tinfo, pref, excl, hasNew, now)
	case session.StateChoose:
		return e.handleChooseState(ctx, cfg, sess, norm, svc, tinfo, pref, excl, hasNew, now)
	default:
		payload := merge(sess.Payload, svc, tinfo, pref, excl)
		return e.advance(ctx, cfg, sess, payload, now)
	}
}

func (e *Engine) handleConfirmState(ctx context.Context, cfg models.ShopConfig, sess *session.Session,
	norm string, svc *models.Service, tinfo timeparse.Result, pref string, excl []string, hasNew bool, now time.Time) (string, error) {
	if isAffirm(norm) {
		return e.confirmChosen(ctx, cfg, sess, now)
	}
	if hasNew {
		// A fresh constraint is "reject this slot and search again".
		payload := merge(sess.Payload, svc, tinfo, pref, excl)
		payload.Chosen = nil
		payload.Offers = nil
		return e.advance(ctx, cfg, sess, payload, now)
	}
	if isNegative(norm) {
		payload := sess.Payload
		payload.Chosen = nil
		payload.Offers = nil
		payload.Date, payload.Time, payload.After, payload.Before = nil, nil, nil, nil
		if reply, err := e.moveTo(ctx, sess, session.StateNeedWhen, payload, msgAskWhen()); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	}
	return msgConfirm(sess.Payload.ServiceName, *sess.Payload.Chosen), nil
}

func (e *Engine) handleChooseState(ctx context.Context, cfg models.ShopConfig, sess *session.Session,
	norm string, svc *models.Service, tinfo timeparse.Result, pref string, excl []string, hasNew bool, now time.Time) (string, error) {
	if n := selection(norm); n > 0 {
		offers := sess.Payload.Offers
		if n > len(offers) {
			// Out of range: re-prompt, nothing lost.
			return msgInvalidChoice(len(offers)), nil
		}
		payload := sess.Payload
		chosen := offers[n-1]
		payload.Chosen = &chosen
		payload.Offers = nil
		if reply, err := e.moveTo(ctx, sess, session.StateConfirm, payload, msgConfirm(payload.ServiceName, chosen)); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	}
	if hasNew {
		payload := merge(sess.Payload, svc, tinfo, pref, excl)
		payload.Chosen = nil
		payload.Offers = nil
		return e.advance(ctx, cfg, sess, payload, now)
	}
	return msgOffers(sess.Payload.ServiceName, sess.Payload.Offers), nil
}

// advance moves a collecting session forward: ask for the next missing field
// or run the search once service plus enough temporal information are known.
func (e *Engine) advance(ctx context.Context, cfg models.ShopConfig, sess *session.Session,
	payload session.Payload, now time.Time) (string, error) {
	services := cfg.ActiveServices()
	if payload.ServiceName == "" {
		if len(services) == 1 {
			payload.ServiceName = services[0].Name
		} else {
			if reply, err := e.moveTo(ctx, sess, session.StateNeedService, payload, msgAskService(services)); err == nil {
				return reply, nil
			}
			return msgApology(), nil
		}
	}

	hasWindow := payload.After != nil || payload.Before != nil
	switch {
	case payload.Date == nil && payload.Time == nil && !hasWindow:
		if reply, err := e.moveTo(ctx, sess, session.StateNeedWhen, payload, msgAskWhen()); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	case payload.Date == nil:
		if reply, err := e.moveTo(ctx, sess, session.StateNeedDate, payload, msgAskDate()); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	case payload.Time == nil && !hasWindow:
		if reply, err := e.moveTo(ctx, sess, session.StateNeedTime, payload, msgAskTime(*payload.Date)); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	}

	return e.runSearch(ctx, cfg, sess, payload, now)
}

func (e *Engine) runSearch(ctx context.Context, cfg models.ShopConfig, sess *session.Session,
	payload session.Payload, now time.Time) (string, error) {
	svc := serviceByName(cfg.ActiveServices(), payload.ServiceName)
	if svc == nil {
		payload.ServiceName = ""
		if reply, err := e.moveTo(ctx, sess, session.StateNeedService, payload, msgAskService(cfg.ActiveServices())); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	}

	operators := availability.EligibleOperators(cfg.Operators, payload.PreferredOp, payload.ExcludedOps)
	candidates, err := e.search.Find(ctx, availability.Query{
		Shop:      cfg.Shop,
		Hours:     cfg.Hours,
		Operators: operators,
		Duration:  svc.Duration,
		Date:      payload.Date,
		Time:      payload.Time,
		After:     payload.After,
		Before:    payload.Before,
		Limit:     e.opts.MaxCandidates,
		Horizon:   e.opts.HorizonDays,
		Now:       now,
	})
	if errors.Is(err, availability.ErrNoOperators) {
		e.logger.Error().Str("shop", cfg.Shop.ID).Msg("search impossible: no eligible operators")
		return msgApology(), nil
	}
	if err != nil {
		e.logger.Error().Err(err).Str("shop", cfg.Shop.ID).Msg("availability search failed")
		return msgApology(), nil
	}

	if len(candidates) == 0 {
		payload.Date, payload.Time, payload.After, payload.Before = nil, nil, nil, nil
		payload.Offers, payload.Chosen = nil, nil
		if reply, err := e.moveTo(ctx, sess, session.StateNeedWhen, payload, msgNoAvailability()); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	}

	// The exact asked slot goes straight to confirmation, no list detour.
	if payload.Date != nil && payload.Time != nil && len(candidates) == 1 &&
		candidates[0].Start.Equal(payload.Time.On(*payload.Date)) {
		chosen := candidates[0]
		payload.Chosen = &chosen
		payload.Offers = nil
		if reply, err := e.moveTo(ctx, sess, session.StateConfirm, payload, msgConfirm(svc.Name, chosen)); err == nil {
			return reply, nil
		}
		return msgApology(), nil
	}

	payload.Offers = candidates
	payload.Chosen = nil
	if reply, err := e.moveTo(ctx, sess, session.StateChoose, payload, msgOffers(svc.Name, candidates)); err == nil {
		return reply, nil
	}
	return msgApology(), nil
}

func (e *Engine) confirmChosen(ctx context.Context, cfg models.ShopConfig, sess *session.Session, now time.Time) (string, error) {
	chosen := sess.Payload.Chosen
	svc := serviceByName(cfg.ActiveServices(), sess.Payload.ServiceName)
	if svc == nil {
		// Catalog changed under the conversation; start over cleanly.
		_ = e.sessions.Clear(ctx, cfg.Shop.ID, sess.Phone)
		return msgAskService(cfg.ActiveServices()), nil
	}

	result, err := e.confirmer.Confirm(ctx, cfg.Shop, *svc, *chosen, sess.Phone)
	if err != nil {
		e.logger.Error().Err(err).Str("shop", cfg.Shop.ID).Msg("booking confirmation failed")
		return msgApology(), nil
	}

	switch result.Outcome {
	case booking.OutcomeBooked, booking.OutcomeAlreadyBooked:
		if cerr := e.sessions.Clear(ctx, cfg.Shop.ID, sess.Phone); cerr != nil {
			e.logger.Warn().Err(cerr).Msg("session clear after booking failed")
		}
		return msgBooked(svc.Name, *chosen), nil
	default: // conflict: the slot went away between offer and confirm
		payload := sess.Payload
		payload.Chosen = nil
		payload.Offers = nil
		payload.Time = nil // the exact time is gone, widen the search

		operators := availability.EligibleOperators(cfg.Operators, payload.PreferredOp, payload.ExcludedOps)
		candidates, serr := e.search.Find(ctx, availability.Query{
			Shop:      cfg.Shop,
			Hours:     cfg.Hours,
			Operators: operators,
			Duration:  svc.Duration,
			Date:      payload.Date,
			After:     payload.After,
			Before:    payload.Before,
			Limit:     e.opts.MaxCandidates,
			Horizon:   e.opts.HorizonDays,
			Now:       now,
		})
		if serr != nil || len(candidates) == 0 {
			payload.Date, payload.After, payload.Before = nil, nil, nil
			if reply, merr := e.moveTo(ctx, sess, session.StateNeedWhen, payload, msgNoAvailability()); merr == nil {
				return reply, nil
			}
			return msgApology(), nil
		}
		payload.Offers = candidates
		if reply, merr := e.moveTo(ctx, sess, session.StateChoose, payload, msgSlotTaken(candidates)); merr == nil {
			return reply, nil
		}
		return msgApology(), nil
	}
}

// moveTo transitions and persists the session, returning the reply on
// success. A failed transition or store write leaves the old state in place.
func (e *Engine) moveTo(ctx context.Context, sess *session.Session, to session.State,
	payload session.Payload, reply string) (string, error) {
	prev := *sess
	if err := sess.Transition(to, payload); err != nil {
		e.logger.Error().Err(err).Str("from", string(prev.State)).Str("to", string(to)).Msg("illegal session transition")
		return "", err
	}
	if err := e.sessions.Put(ctx, sess); err != nil {
		*sess = prev
		e.logger.Error().Err(err).Msg("session save failed")
		return "", err
	}
	return reply, nil
}

// merge folds newly parsed fields into the payload without discarding what
// previous turns already collected.
func merge(payload session.Payload, svc *models.Service, tinfo timeparse.Result, pref string, excl []string) session.Payload {
	if svc != nil {
		payload.ServiceName = svc.Name
	}
	if tinfo.Date != nil {
		payload.Date = tinfo.Date
	}
	// An exact time beats a window and vice versa; the most recent wins.
	if tinfo.Time != nil {
		payload.Time = tinfo.Time
		payload.After, payload.Before = nil, nil
	} else {
		if tinfo.After != nil {
			payload.After = tinfo.After
			payload.Time = nil
		}
		if tinfo.Before != nil {
			payload.Before = tinfo.Before
			payload.Time = nil
		}
	}
	if pref != "" {
		payload.PreferredOp = pref
		payload.ExcludedOps = removeName(payload.ExcludedOps, pref)
	}
	for _, name := range excl {
		if !containsName(payload.ExcludedOps, name) {
			payload.ExcludedOps = append(payload.ExcludedOps, name)
		}
		if payload.PreferredOp == name {
			payload.PreferredOp = ""
		}
	}
	return payload
}

func serviceByName(services []models.Service, name string) *models.Service {
	for i := range services {
		if services[i].Name == name {
			return &services[i]
		}
	}
	return nil
}

func removeName(names []string, name string) []string {
	var out []string
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
