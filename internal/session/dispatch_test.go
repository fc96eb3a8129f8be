package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
)

func TestDispatcher_UnknownCommandIsNotFound(t *testing.T) {
	d := NewDispatcher()
	_, errCode, err := d.Dispatch(context.Background(), nil, protoids.ComponentUtil, protoids.CommandUtilPing, &tagcodec.Group{})
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrCommandNotFound, errCode)
}

func TestDispatcher_RegisteredHandlerInvoked(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Register(protoids.ComponentUtil, protoids.CommandUtilPing, func(ctx context.Context, s *Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
		called = true
		return &tagcodec.Group{}, protoids.ErrNone, nil
	})

	reply, errCode, err := d.Dispatch(context.Background(), nil, protoids.ComponentUtil, protoids.CommandUtilPing, &tagcodec.Group{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, protoids.ErrNone, errCode)
	assert.NotNil(t, reply)
}
