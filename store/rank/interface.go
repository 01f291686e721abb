// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package rank

import "errors"

// ErrNoData is returned by Query for an unranked (player, metric) pair.
var ErrNoData = errors.New("rank: no data")

type Entry struct {
	PlayerID string
	Metric   string
	Value    float64
}

type Ranking struct {
	Rank  int
	Value float64
}

// Ranker is the external leaderboard capability. The ranking algorithm
// behind it is not this system's concern.
type Ranker interface {
	Submit(entries []Entry) error
	Query(playerID, metric string) (Ranking, error)
}
