// Package dailydraw serves one numerology message per identity and day.
package dailydraw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/domain/draw"
	"github.com/fl2m/platform/internal/app/domain/numerology"
	"github.com/fl2m/platform/internal/app/metrics"
	"github.com/fl2m/platform/internal/app/storage"
	"github.com/fl2m/platform/internal/cache"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/pkg/logger"
)

// AccessChecker resolves a profile's role on a beneficiary.
type AccessChecker interface {
	Role(ctx context.Context, beneficiaryID, profileID string) (beneficiary.Role, error)
}

// Service computes and records daily draws.
type Service struct {
	store         storage.DrawStore
	profiles      storage.ProfileStore
	beneficiaries storage.BeneficiaryStore
	access        AccessChecker
	cache         cache.DrawCache
	loc           *time.Location
	now           func() time.Time
	log           *logger.Logger
}

// New constructs the draw service. A nil cache disables caching.
func New(
	store storage.DrawStore,
	profiles storage.ProfileStore,
	beneficiaries storage.BeneficiaryStore,
	access AccessChecker,
	drawCache cache.DrawCache,
	loc *time.Location,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("dailydraw")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:         store,
		profiles:      profiles,
		beneficiaries: beneficiaries,
		access:        access,
		cache:         drawCache,
		loc:           loc,
		now:           time.Now,
		log:           log,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// day truncates t to midnight of its calendar day in the service location.
func (s *Service) day(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

// Today returns the draw of profileID, or of the beneficiary when
// beneficiaryID is set and the profile has access to it.
func (s *Service) Today(ctx context.Context, profileID, beneficiaryID string) (draw.Result, error) {
	identity, birth, err := s.subject(ctx, profileID, beneficiaryID)
	if err != nil {
		return draw.Result{}, err
	}
	return s.Draw(ctx, identity, birth, s.now())
}

// History returns the recent draws of profileID or of an accessible
// beneficiary, newest first.
func (s *Service) History(ctx context.Context, profileID, beneficiaryID string, limit int) ([]draw.HistoryEntry, error) {
	identity := profileID
	if beneficiaryID != "" {
		if _, err := s.access.Role(ctx, beneficiaryID, profileID); err != nil {
			return nil, err
		}
		identity = beneficiaryID
	}
	if limit <= 0 || limit > 90 {
		limit = 30
	}
	entries, err := s.store.ListDrawHistory(ctx, identity, limit)
	if err != nil {
		return nil, svcerrors.Internal("list draw history", err)
	}
	return entries, nil
}

func (s *Service) subject(ctx context.Context, profileID, beneficiaryID string) (string, time.Time, error) {
	if beneficiaryID != "" {
		if _, err := s.access.Role(ctx, beneficiaryID, profileID); err != nil {
			return "", time.Time{}, err
		}
		b, err := s.beneficiaries.GetBeneficiary(ctx, beneficiaryID)
		if errors.Is(err, storage.ErrNotFound) {
			return "", time.Time{}, svcerrors.NotFound("beneficiary", beneficiaryID)
		}
		if err != nil {
			return "", time.Time{}, svcerrors.Internal("get beneficiary", err)
		}
		return b.ID, b.BirthDate, nil
	}

	p, err := s.profiles.GetProfile(ctx, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", time.Time{}, svcerrors.NotFound("profile", profileID)
	}
	if err != nil {
		return "", time.Time{}, svcerrors.Internal("get profile", err)
	}
	if p.BirthDate == nil {
		return "", time.Time{}, svcerrors.Validation("birth_date", "set a birth date to receive a daily draw")
	}
	return p.ID, *p.BirthDate, nil
}

// Draw returns the message for identity on the calendar day of at. The first
// call of the day selects and records a message; later calls return the
// same one with Repeat set.
func (s *Service) Draw(ctx context.Context, identity string, birth, at time.Time) (draw.Result, error) {
	if identity == "" {
		return draw.Result{}, svcerrors.Validation("identity", "identity is required")
	}
	day := s.day(at)

	if s.cache != nil {
		res, ok, err := s.cache.Get(ctx, identity, day)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("draw cache read failed")
		} else if ok {
			res.Repeat = true
			metrics.RecordDraw(true)
			return res, nil
		}
	}

	entry, err := s.store.GetDrawHistory(ctx, identity, day)
	switch {
	case err == nil:
		res, err := s.result(ctx, entry, true)
		if err != nil {
			return draw.Result{}, err
		}
		s.remember(ctx, res)
		metrics.RecordDraw(true)
		return res, nil
	case !errors.Is(err, storage.ErrNotFound):
		return draw.Result{}, svcerrors.Internal("get draw history", err)
	}

	msg, number, err := s.pick(ctx, identity, birth, day)
	if err != nil {
		return draw.Result{}, err
	}

	entry, err = s.store.CreateDrawHistory(ctx, draw.HistoryEntry{
		Identity:  identity,
		DrawDate:  day,
		MessageID: msg.ID,
		Number:    number,
	})
	repeat := false
	if errors.Is(err, storage.ErrConflict) {
		// a concurrent request recorded first; serve what it stored
		entry, err = s.store.GetDrawHistory(ctx, identity, day)
		repeat = true
	}
	if err != nil {
		return draw.Result{}, svcerrors.Internal("record draw", err)
	}

	res, err := s.result(ctx, entry, repeat)
	if err != nil {
		return draw.Result{}, err
	}
	s.remember(ctx, res)
	metrics.RecordDraw(repeat)
	s.log.WithField("identity", identity).WithField("number", number).WithField("message_id", res.Message.ID).Debug("draw served")
	return res, nil
}

// pick selects the message for a first draw of the day.
func (s *Service) pick(ctx context.Context, identity string, birth, day time.Time) (draw.Message, int, error) {
	number := numerology.DrawNumber(birth, day)
	candidates, err := s.store.ListDrawMessages(ctx, number)
	if err != nil {
		return draw.Message{}, 0, svcerrors.Internal("list draw messages", err)
	}
	if len(candidates) == 0 && numerology.IsMaster(number) {
		number = numerology.Reduce(number, false)
		if candidates, err = s.store.ListDrawMessages(ctx, number); err != nil {
			return draw.Message{}, 0, svcerrors.Internal("list draw messages", err)
		}
	}
	if len(candidates) == 0 {
		return draw.Message{}, 0, svcerrors.NotFound("draw message for number", fmt.Sprint(number))
	}

	idx := numerology.SelectIndex(numerology.LifePath(birth), day, len(candidates))
	if len(candidates) > 1 {
		prev, err := s.store.GetDrawHistory(ctx, identity, day.AddDate(0, 0, -1))
		if err == nil && candidates[idx].ID == prev.MessageID {
			idx = (idx + 1) % len(candidates)
		}
	}
	return candidates[idx], number, nil
}

func (s *Service) result(ctx context.Context, entry draw.HistoryEntry, repeat bool) (draw.Result, error) {
	msg, err := s.store.GetDrawMessage(ctx, entry.MessageID)
	if err != nil {
		return draw.Result{}, svcerrors.Internal("get draw message", err)
	}
	return draw.Result{
		Identity: entry.Identity,
		Date:     draw.DateKey(entry.DrawDate),
		Number:   entry.Number,
		Message:  msg,
		Repeat:   repeat,
		ServedAt: s.now().UTC(),
	}, nil
}

func (s *Service) remember(ctx context.Context, res draw.Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, res, cache.UntilEndOfDay(s.now(), s.loc)); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("draw cache write failed")
	}
}

type messageFile struct {
	Messages []draw.Message `yaml:"messages"`
}

// ParseMessages decodes and validates a YAML message catalog.
func ParseMessages(data []byte) ([]draw.Message, error) {
	var file messageFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, svcerrors.InvalidFormat("decode draw messages", err)
	}
	seen := make(map[string]bool, len(file.Messages))
	for i, m := range file.Messages {
		m.ID = strings.TrimSpace(m.ID)
		m.Title = strings.TrimSpace(m.Title)
		m.Body = strings.TrimSpace(m.Body)
		switch {
		case m.ID == "":
			return nil, svcerrors.Validation("id", fmt.Sprintf("message %d has no id", i))
		case seen[m.ID]:
			return nil, svcerrors.Validation("id", "duplicate message id "+m.ID)
		case !validNumber(m.Number):
			return nil, svcerrors.Validation("number", fmt.Sprintf("message %s has invalid number %d", m.ID, m.Number))
		case m.Title == "" || m.Body == "":
			return nil, svcerrors.Validation("body", "message "+m.ID+" needs a title and a body")
		}
		seen[m.ID] = true
		file.Messages[i] = m
	}
	return file.Messages, nil
}

func validNumber(n int) bool {
	return (n >= 1 && n <= 9) || numerology.IsMaster(n)
}

// ImportMessages upserts a YAML message catalog and returns how many
// messages were stored.
func (s *Service) ImportMessages(ctx context.Context, data []byte) (int, error) {
	msgs, err := ParseMessages(data)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if _, err := s.store.UpsertDrawMessage(ctx, m); err != nil {
			return 0, svcerrors.Internal("store draw message "+m.ID, err)
		}
	}
	s.log.WithField("count", len(msgs)).Info("draw messages imported")
	return len(msgs), nil
}
