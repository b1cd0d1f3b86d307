package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

// fakeContext implements only what the middlewares touch.
type fakeContext struct {
	tele.Context
	chat  *tele.Chat
	store map[string]any
}

func newFakeContext(chatID int64) *fakeContext {
	return &fakeContext{chat: &tele.Chat{ID: chatID}, store: map[string]any{}}
}

func (f *fakeContext) Chat() *tele.Chat { return f.chat }
func (f *fakeContext) Text() string { return "/metrics" }
func (f *fakeContext) Get(key string) any { return f.store[key] }
func (f *fakeContext) Set(key string, val any) { f.store[key] = val }

func TestLogger_SetsRequestID(t *testing.T) {
	c := newFakeContext(1)

	var seen string
	err := Logger()(func(c tele.Context) error {
		seen, _ = c.Get("rqID").(string)
		return nil
	})(c)

	require.NoError(t, err)
	assert.NotEmpty(t, seen)
}

func TestOwnerOnly(t *testing.T) {
	calls := 0
	handler := OwnerOnly(42)(func(tele.Context) error {
		calls++
		return nil
	})

	require.NoError(t, handler(newFakeContext(42)))
	require.NoError(t, handler(newFakeContext(7)))
	require.NoError(t, handler(&fakeContext{store: map[string]any{}}))

	assert.Equal(t, 1, calls)
}
