package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/internal/config"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
	"github.com/smallbiznis/meterflow/internal/payment/mock"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type permanentErr struct{}

func (permanentErr) Error() string   { return "card_declined" }
func (permanentErr) Temporary() bool { return false }

func newTestCollector(t *testing.T) (*RetryingCollector, *mock.MockCollector) {
	t.Helper()
	ctrl := gomock.NewController(t)
	next := mock.NewMockCollector(ctrl)
	next.EXPECT().Provider().Return("stub").AnyTimes()

	engine := config.DefaultEngineConfig()
	engine.Collection.MaxRetries = 2
	engine.Collection.RetryInitialInterval = time.Millisecond
	engine.Collection.RetryMaxInterval = 2 * time.Millisecond
	engine.Collection.Timeout = time.Second

	return NewRetryingCollector(next, zap.NewNop(), config.NewStaticEngineConfigHolder(engine)), next
}

func chargeRequest() paymentdomain.ChargeRequest {
	return paymentdomain.ChargeRequest{InvoiceID: 9, Amount: decimal.NewFromInt(10), Currency: "USD"}
}

func TestChargeRetriesTransientFailures(t *testing.T) {
	collector, next := newTestCollector(t)

	gomock.InOrder(
		next.EXPECT().Charge(gomock.Any(), chargeRequest()).Return(paymentdomain.ChargeResult{}, errors.New("connection reset")),
		next.EXPECT().Charge(gomock.Any(), chargeRequest()).Return(paymentdomain.ChargeResult{Reference: "pi_1", Status: paymentdomain.StatusProcessing}, nil),
	)

	res, err := collector.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.Reference)
	assert.Equal(t, paymentdomain.StatusProcessing, res.Status)
}

func TestChargeGivesUpAfterMaxTries(t *testing.T) {
	collector, next := newTestCollector(t)

	next.EXPECT().Charge(gomock.Any(), gomock.Any()).
		Return(paymentdomain.ChargeResult{}, errors.New("timeout")).
		Times(3)

	_, err := collector.Charge(context.Background(), chargeRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrCollection)
	assert.Equal(t, billingerr.KindCollection, billingerr.KindOf(err))
}

func TestChargeDoesNotRetryPermanentFailures(t *testing.T) {
	collector, next := newTestCollector(t)

	next.EXPECT().Charge(gomock.Any(), gomock.Any()).
		Return(paymentdomain.ChargeResult{}, permanentErr{}).
		Times(1)

	_, err := collector.Charge(context.Background(), chargeRequest())
	assert.ErrorIs(t, err, paymentdomain.ErrCollection)
	assert.ErrorAs(t, err, new(permanentErr))
}

func TestChargeNormalizesUnknownStatus(t *testing.T) {
	collector, next := newTestCollector(t)

	next.EXPECT().Charge(gomock.Any(), gomock.Any()).
		Return(paymentdomain.ChargeResult{Reference: "pi_2", Status: "weird"}, nil)

	res, err := collector.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, res.Status)
}

func TestGetStatusRetries(t *testing.T) {
	collector, next := newTestCollector(t)

	gomock.InOrder(
		next.EXPECT().GetStatus(gomock.Any(), "pi_1").Return(paymentdomain.Status(""), errors.New("502")),
		next.EXPECT().GetStatus(gomock.Any(), "pi_1").Return(paymentdomain.StatusSucceeded, nil),
	)

	status, err := collector.GetStatus(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, status)
}
