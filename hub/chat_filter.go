// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"math"

	"github.com/finnbear/moderation"
)

// chatHistory tracks one player's recent chat behavior so the bridge
// can censor or block before relaying to the external gateway.
type chatHistory struct {
	total         float64
	inappropriate float64

	// Time last faded out in milliseconds
	updated int64
}

// update scans a message and returns the (possibly censored) text and
// whether it may be relayed.
func (hist *chatHistory) update(message string) (string, bool) {
	hist.total++
	result := moderation.Scan(message)
	inappropriate := result.Is(moderation.Inappropriate)
	severelyInappropriate := result.Is(moderation.Inappropriate & moderation.Severe)

	var censorAmount int
	if inappropriate {
		message, censorAmount = moderation.Censor(message, moderation.Inappropriate)
		hist.inappropriate++
	}

	inappropriateFraction := hist.inappropriate / hist.total

	// Count whole number of seconds since last update
	now := unixMillis()
	seconds := (now - hist.updated) / 1000

	if hist.updated == 0 {
		hist.updated = now
	} else if seconds > 0 {
		fadeRate := 0.95 // seconds

		// Inappropriate senders fade out slower
		if hist.inappropriate > 3 && inappropriateFraction > 0.3 {
			fadeRate = 0.9999 // minutes
		} else if inappropriateFraction > 0.2 {
			fadeRate = 0.999
		} else if inappropriateFraction > 0.1 {
			fadeRate = 0.99
		}

		fade := math.Pow(fadeRate, float64(seconds))

		// Fade in equal proportions to not distort inappropriateFraction
		hist.total *= fade
		hist.inappropriate *= fade

		hist.updated = now
	}

	frequencySpam := hist.total >= 10
	inappropriateSpam := hist.inappropriate > 2 && inappropriateFraction > 0.20

	block := (inappropriate && censorAmount > 4) || severelyInappropriate || frequencySpam || inappropriateSpam

	return message, !block
}
