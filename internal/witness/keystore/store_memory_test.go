package keystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

type MemoryKeystoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func TestMemoryKeystoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryKeystoreSuite))
}

func (s *MemoryKeystoreSuite) SetupTest() {
	s.store = NewMemory(5 * time.Minute)
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func (s *MemoryKeystoreSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *MemoryKeystoreSuite) TestSingleUse() {
	issued, err := s.store.Issue(s.ctx())
	s.Require().NoError(err)
	s.NotEmpty(issued.KeyID)
	s.NotNil(issued.Public)

	priv, err := s.store.Consume(s.ctx(), issued.KeyID)
	s.Require().NoError(err)
	s.Equal(issued.Public.Bytes(), priv.PublicKey().Bytes())

	// Second consume must miss: the key is single use.
	_, err = s.store.Consume(s.ctx(), issued.KeyID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MemoryKeystoreSuite) TestExpiry() {
	issued, err := s.store.Issue(s.ctx())
	s.Require().NoError(err)

	later := requestcontext.WithTime(context.Background(), s.now.Add(10*time.Minute))
	_, err = s.store.Consume(later, issued.KeyID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MemoryKeystoreSuite) TestUnknownKey() {
	_, err := s.store.Consume(s.ctx(), "no-such-key")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
