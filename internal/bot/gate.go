package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/oracle"
)

// passesMandatoryGate checks the user's membership in every mandatory channel
// and prompts for the missing ones. Mandatory channels gate functionality
// only; they never touch the points economy. Only a confirmed Member passes:
// an unverifiable channel keeps the gate closed rather than silently open.
func (s *Service) passesMandatoryGate(uc *UpdateContext, userID int64) (bool, error) {
	required, err := s.store.MandatoryChannels(uc)
	if err != nil {
		return false, fmt.Errorf("listing mandatory channels: %w", err)
	}
	if len(required) == 0 {
		return true, nil
	}

	var missing []*models.MandatoryChannel
	for _, ch := range required {
		ctx, cancel := context.WithTimeout(uc, s.cfg.OracleTimeout)
		membership := s.oracle.CheckMembership(ctx, userID, ch.Username)
		cancel()

		if membership != oracle.Member {
			missing = append(missing, ch)
		}
	}

	if len(missing) == 0 {
		return true, nil
	}

	var b strings.Builder
	b.WriteString("Please join the required channels first:\n")
	for _, ch := range missing {
		if ch.Link != "" {
			fmt.Fprintf(&b, "@%s — %s\n", ch.Username, ch.Link)
		} else {
			fmt.Fprintf(&b, "@%s\n", ch.Username)
		}
	}
	b.WriteString("\nThen send the command again.")

	if err := uc.TC().Send(b.String()); err != nil {
		return false, fmt.Errorf("sending gate prompt: %w", err)
	}
	return false, nil
}
