package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"pulseboard/internal/record/domain"
)

// TestEmailDefaultsProperty verifies that any email item normalizes to a valid record.
// Property: sender and subject are never empty and are trimmed; blank input falls back to the defaults.
func TestEmailDefaultsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	n := testNormalizer(nil)

	properties.Property("emails always validate", prop.ForAll(
		func(sender, subject string, pad int) bool {
			ws := strings.Repeat(" ", pad)
			rec, err := n.Normalize(domain.KindEmail, "gmail", map[string]any{
				"sender":  ws + sender + ws,
				"subject": ws + subject,
			})
			if err != nil {
				return false
			}
			mail := rec.(*domain.Email)
			if mail.Validate() != nil {
				return false
			}
			if strings.TrimSpace(sender) == "" {
				return mail.Sender == DefaultSender
			}
			return mail.Sender == strings.TrimSpace(sender) &&
				(strings.TrimSpace(subject) != "" || mail.Subject == DefaultSubject)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 3),
	))

	properties.Property("unix times normalize to a storable instant or fail", prop.ForAll(
		func(ts int64) bool {
			rec, err := n.Normalize(domain.KindSignal, "s", map[string]any{"type": "t", "timestamp": ts})
			if err != nil {
				var nerr *domain.NormalizationError
				return errors.As(err, &nerr) && nerr.Field == "timestamp"
			}
			return domain.CheckTimestamp(rec.Common().Timestamp) == nil
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
