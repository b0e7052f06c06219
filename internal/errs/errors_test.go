package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	raw := errors.New("connection reset by peer")
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"domain stays", fmt.Errorf("%w: 5 active", ErrLoanLimitExceeded), false},
		{"loan miss stays", &LoanLookupError{Reason: ReasonWrongOwner}, false},
		{"cancel stays", context.Canceled, false},
		{"deadline stays", fmt.Errorf("lock: %w", context.DeadlineExceeded), false},
		{"unknown becomes transient", raw, true},
		{"transient stays", Transient(raw), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			assert.Equal(t, tc.transient, errors.Is(got, ErrTransient))
			assert.ErrorIs(t, got, tc.err)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestTransient_WrapsOnce(t *testing.T) {
	raw := errors.New("deadlock detected")
	once := Transient(raw)
	assert.Same(t, once, Transient(once))
	assert.ErrorIs(t, once, raw)
	assert.Nil(t, Transient(nil))
}

func TestBookUnavailableError(t *testing.T) {
	id := uuid.New()
	empty := &BookUnavailableError{BookID: id}
	assert.ErrorIs(t, empty, ErrNotAvailable)
	assert.NotErrorIs(t, empty, ErrNotFound)

	missing := &BookUnavailableError{BookID: id, Missing: true}
	assert.ErrorIs(t, missing, ErrNotAvailable)
	assert.ErrorIs(t, missing, ErrNotFound)
}

func TestLoanLookupError_HidesReason(t *testing.T) {
	for _, r := range []LoanMissReason{ReasonNoSuchLoan, ReasonAlreadyReturned, ReasonWrongOwner, ReasonNoActiveLoanForBook} {
		err := &LoanLookupError{Reason: r}
		assert.ErrorIs(t, err, ErrLoanNotFound)
		assert.True(t, IsDomain(err))
	}
	assert.False(t, IsDomain(errors.New("boom")))
}
