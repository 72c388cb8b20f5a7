package external

import (
	"context"
	"log/slog"
)

// LoggingPaymentProvider is the default PaymentProvider: it records the
// charge and accepts it. Real provider integrations replace it at wiring
// time; the engine only routes on success or failure.
type LoggingPaymentProvider struct {
	log *slog.Logger
}

// NewLoggingPaymentProvider returns the stub provider.
func NewLoggingPaymentProvider(log *slog.Logger) *LoggingPaymentProvider {
	if log == nil {
		log = slog.Default()
	}

	return &LoggingPaymentProvider{log: log}
}

// Charge accepts every payment after logging it.
func (p *LoggingPaymentProvider) Charge(ctx context.Context, userID int64, amount float64, currency string) error {
	p.log.InfoContext(ctx, "payment accepted",
		slog.Int64("user_id", userID),
		slog.Float64("amount", amount),
		slog.String("currency", currency),
	)

	return nil
}
