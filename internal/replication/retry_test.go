package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

func TestRunWithBudgetsSucceedsAfterConnectionErrorsWithoutSpendingBudget(t *testing.T) {
	budgets := &models.RetryBudgets{RateLimit: 1, Timeout: 1, Error: 1, Connection: 1}

	attempts := 0
	err := runWithBudgets(context.Background(), testLogger(), budgets, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &ConnectionError{Err: assert.AnError}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, budgets.Error, "connection-class errors must not spend the error budget")
}

func TestRunWithBudgetsExhaustsRateLimitBudget(t *testing.T) {
	budgets := &models.RetryBudgets{RateLimit: 2, Timeout: 5, Error: 5, Connection: 5}

	attempts := 0
	err := runWithBudgets(context.Background(), testLogger(), budgets, func(ctx context.Context) error {
		attempts++
		return &RateLimitError{Body: "rate limited"}
	})

	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 0, budgets.RateLimit)
	assert.Equal(t, 3, attempts, "budget of 2 allows 2 retries after the first attempt")
}

func TestRunWithBudgetsExhaustsErrorBudgetOnGenericErrors(t *testing.T) {
	budgets := &models.RetryBudgets{RateLimit: 5, Timeout: 5, Error: 1, Connection: 5}

	err := runWithBudgets(context.Background(), testLogger(), budgets, func(ctx context.Context) error {
		return &HTTPError{StatusCode: 500, Body: "internal error"}
	})

	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 0, budgets.Error)
}

func TestRunWithBudgetsRetriesConcurrentCreationWithoutSpendingBudget(t *testing.T) {
	budgets := &models.RetryBudgets{RateLimit: 1, Timeout: 1, Error: 1, Connection: 1}

	attempts := 0
	err := runWithBudgets(context.Background(), testLogger(), budgets, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return &ConcurrentCreationError{Body: "bucket namespace is shared"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, budgets.Error)
	assert.Equal(t, 1, budgets.RateLimit)
}
