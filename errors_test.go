// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMatching(t *testing.T) {
	err := newError(KindNotFound, "Bye", "call %d", 5)
	assert.Equal(t, "sipua: Bye: NotFound: call 5", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidState)

	wrapped := fmt.Errorf("menu: %w", err)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
}

func TestErrorWrapsMessageVerbatim(t *testing.T) {
	err := newError(KindInvalidArgument, "AddAccount", "%s", errors.New("server 100% busy"))
	assert.Equal(t, "sipua: AddAccount: InvalidArgument: server 100% busy", err.Error())
}
