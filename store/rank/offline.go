// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package rank

// Offline is a no-op Ranker for development without cloud credentials.
type Offline struct{}

func (Offline) Submit(entries []Entry) error {
	return nil
}

func (Offline) Query(playerID, metric string) (Ranking, error) {
	return Ranking{}, ErrNoData
}
