package storage

import "context"

// StaticShares is a fixed in-memory ShareResolver, keyed by share token.
type StaticShares struct {
	shares map[string]Share
}

func NewStaticShares(shares ...Share) *StaticShares {
	m := make(map[string]Share, len(shares))
	for _, s := range shares {
		m[s.Token] = s
	}
	return &StaticShares{shares: m}
}

func (s *StaticShares) ResolveShare(ctx context.Context, token string) (*Share, error) {
	sh, ok := s.shares[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &sh, nil
}
