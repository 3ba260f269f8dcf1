package session

import (
	"context"

	"github.com/rs/zerolog"
)

// FailoverStore reads and writes through the primary store and falls back to
// the secondary when the primary errors. Writes go to both so a recovered
// primary does not resurrect stale state the fallback already replaced.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger
}

// NewFailoverStore wraps a primary (typically Redis) with a fallback
// (typically memory).
func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

func (s *FailoverStore) Get(ctx context.Context, shopID, phone string) (*Session, error) {
	sess, err := s.primary.Get(ctx, shopID, phone)
	if err == nil {
		return sess, nil
	}
	s.warn(err, "session get failed on primary store")
	return s.fallback.Get(ctx, shopID, phone)
}

func (s *FailoverStore) Put(ctx context.Context, sess *Session) error {
	perr := s.primary.Put(ctx, sess)
	ferr := s.fallback.Put(ctx, sess)
	if perr != nil {
		s.warn(perr, "session put failed on primary store")
		return ferr
	}
	return nil
}

func (s *FailoverStore) Clear(ctx context.Context, shopID, phone string) error {
	perr := s.primary.Clear(ctx, shopID, phone)
	ferr := s.fallback.Clear(ctx, shopID, phone)
	if perr != nil {
		s.warn(perr, "session clear failed on primary store")
		return ferr
	}
	return nil
}

func (s *FailoverStore) warn(err error, msg string) {
	if s.logger != nil {
		s.logger.Warn().Err(err).Msg(msg)
	}
}
