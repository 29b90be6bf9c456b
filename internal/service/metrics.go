package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/libdx/flask-microservices/pkg/errors"
)

// Operation labels for auth_operations_total.
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpRefresh  = "refresh"
	OpStatus   = "status"
)

// Result labels for auth_operations_total.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// AuthMetrics counts auth operations by outcome.
type AuthMetrics struct {
	operations *prometheus.CounterVec
}

// NewAuthMetrics registers auth collectors on reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	return &AuthMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_operations_total",
				Help: "Total number of auth operations by operation and result",
			},
			[]string{"operation", "result"},
		),
	}
}

// observe records the outcome of op. Client errors count as failures,
// anything unexpected as errors.
func (m *AuthMetrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err == nil {
		return ResultSuccess
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status < 500 {
		return ResultFailure
	}
	return ResultError
}
