package store

import (
	"context"

	"github.com/pkg/errors"
)

// UpsertChannelState records a channel's sync cursor.
func (s *Store) UpsertChannelState(ctx context.Context, state *ChannelState) (*ChannelState, error) {
	if s.driver == nil {
		return state, nil
	}
	if state.ChannelID == "" {
		return nil, errors.New("channel id required")
	}
	return s.driver.UpsertChannelState(ctx, state)
}

// ListChannelStates lists recorded sync cursors.
func (s *Store) ListChannelStates(ctx context.Context, find *FindChannelState) ([]*ChannelState, error) {
	if s.driver == nil {
		return nil, nil
	}
	return s.driver.ListChannelStates(ctx, find)
}

// GetChannelState returns the sync cursor for one channel, or nil when the
// channel has never been synced.
func (s *Store) GetChannelState(ctx context.Context, channelID string) (*ChannelState, error) {
	states, err := s.ListChannelStates(ctx, &FindChannelState{ChannelID: &channelID})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return states[0], nil
}
