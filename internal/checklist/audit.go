package checklist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/pkg/anthropic"
)

// Generation outcomes.
const (
	OutcomeEnriched = "enriched"
	OutcomeFallback = "fallback"
)

// AuditRecord summarizes one Generate call. The prompt and raw response are
// not kept; RequestHash identifies the request.
type AuditRecord struct {
	ApplicationID  string
	ProfileVersion string
	CountryCode    string
	VisaType       string
	Model          string
	RequestHash    string
	Outcome        string
	FallbackReason string
	Corrections    int
	Items          int
	Usage          anthropic.TokenUsage
	Duration       time.Duration
}

// Auditor receives one record per generated checklist.
type Auditor interface {
	Record(ctx context.Context, rec AuditRecord)
}

// LogAuditor writes audit records to the global zap logger.
type LogAuditor struct{}

func (LogAuditor) Record(_ context.Context, rec AuditRecord) {
	zap.L().Info("checklist: generated",
		zap.String("application_id", rec.ApplicationID),
		zap.String("profile_version", rec.ProfileVersion),
		zap.String("country_code", rec.CountryCode),
		zap.String("visa_type", rec.VisaType),
		zap.String("model", rec.Model),
		zap.String("request_hash", rec.RequestHash),
		zap.String("outcome", rec.Outcome),
		zap.String("fallback_reason", rec.FallbackReason),
		zap.Int("corrections", rec.Corrections),
		zap.Int("items", rec.Items),
		zap.Int64("input_tokens", rec.Usage.InputTokens),
		zap.Int64("output_tokens", rec.Usage.OutputTokens),
		zap.Duration("duration", rec.Duration),
	)
}
