// ABOUTME: Tests for entity refs and the profile registry
// ABOUTME: Covers parsing, equality, validation, and loader resolution

package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef_Equal(t *testing.T) {
	a := NewRef("user", "1")
	assert.True(t, a.Equal(NewRef("user", "1")))
	assert.False(t, a.Equal(NewRef("user", "2")))
	assert.False(t, a.Equal(NewRef("bot", "1")), "same id, different type is a different entity")
}

func TestRef_String(t *testing.T) {
	assert.Equal(t, "user:42", NewRef("user", "42").String())
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("bot:weather")
	require.NoError(t, err)
	assert.Equal(t, NewRef("bot", "weather"), ref)

	// IDs may themselves contain the separator
	ref, err = ParseRef("client:tenant:7")
	require.NoError(t, err)
	assert.Equal(t, "client", ref.Type)
	assert.Equal(t, "tenant:7", ref.ID)

	for _, s := range []string{"", "user", ":1", "user:"} {
		_, err := ParseRef(s)
		assert.ErrorIs(t, err, ErrInvalidRef, "input %q", s)
	}
}

func TestRef_Validate(t *testing.T) {
	assert.NoError(t, NewRef("user", "1").Validate())
	assert.ErrorIs(t, NewRef("", "1").Validate(), ErrInvalidRef)
	assert.ErrorIs(t, NewRef("user", "").Validate(), ErrInvalidRef)
	assert.ErrorIs(t, NewRef("us:er", "1").Validate(), ErrInvalidRef)
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	r.Register("user", func(ctx context.Context, id string) (*Profile, error) {
		return &Profile{ID: id, DisplayName: "User " + id}, nil
	})

	profile, err := r.Resolve(context.Background(), NewRef("user", "9"))
	require.NoError(t, err)
	assert.Equal(t, "User 9", profile.DisplayName)

	_, err = r.Resolve(context.Background(), NewRef("bot", "x"))
	assert.ErrorIs(t, err, ErrUnknownEntityType)

	assert.True(t, r.Known("user"))
	assert.False(t, r.Known("bot"))
}

func TestRegistry_LoaderErrorsPropagate(t *testing.T) {
	sentinel := errors.New("backend down")
	r := NewRegistry()
	r.Register("user", func(ctx context.Context, id string) (*Profile, error) {
		return nil, sentinel
	})

	_, err := r.Resolve(context.Background(), NewRef("user", "1"))
	assert.ErrorIs(t, err, sentinel)
}
