package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSentinel = errors.New("orders: sentinel")

func TestWrapKeepsSentinel(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(KindBadRequest, "orders.add_line", errSentinel))

	assert.True(t, errors.Is(err, errSentinel))
	assert.Equal(t, KindBadRequest, KindOf(err))
	assert.True(t, Is(err, KindBadRequest))
	assert.False(t, Is(err, KindNotFound))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
	assert.Nil(t, Wrap(KindConflict, "op", nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "catalog.create: sku already exists", Conflict("catalog.create", "sku already exists").Error())
	assert.Equal(t, "op: internal error: boom", Internal("op", errors.New("boom")).Error())
}

func TestWrapDoesNotRepeatMessage(t *testing.T) {
	assert.Equal(t, "orders.add_line: orders: sentinel", Wrap(KindBadRequest, "orders.add_line", errSentinel).Error())
}
