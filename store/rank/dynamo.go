// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package rank

import (
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/guregu/dynamo"
)

type DynamoRanker struct {
	db    *dynamo.DB
	table dynamo.Table
}

func NewDynamoRanker(session *session.Session, stage string) (*DynamoRanker, error) {
	ranker := &DynamoRanker{db: dynamo.New(session)}
	ranker.table = ranker.db.Table("gamehub-" + stage + "-rankings")
	return ranker, nil
}

func (ranker *DynamoRanker) Submit(entries []Entry) error {
	for _, entry := range entries {
		err := ranker.table.Put(score{
			Metric: entry.Metric,
			Player: entry.PlayerID,
			Value:  entry.Value,
		}).Run()
		if err != nil {
			return err
		}
	}
	return nil
}

func (ranker *DynamoRanker) Query(playerID, metric string) (Ranking, error) {
	query := ranker.table.Get("metric", metric).Iter()

	found := false
	var own float64
	var above int

	for {
		var row score
		ok := query.Next(&row)
		if !ok {
			if err := query.Err(); err != nil {
				return Ranking{}, err
			}
			break
		}
		if row.Player == playerID {
			found = true
			own = row.Value
		}
	}

	if !found {
		return Ranking{}, ErrNoData
	}

	// Second pass for rank; the table is small per metric.
	query = ranker.table.Get("metric", metric).Iter()
	for {
		var row score
		ok := query.Next(&row)
		if !ok {
			if err := query.Err(); err != nil {
				return Ranking{}, err
			}
			break
		}
		if row.Value > own {
			above++
		}
	}

	return Ranking{Rank: above + 1, Value: own}, nil
}
