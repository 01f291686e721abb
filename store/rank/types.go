// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package rank

type score struct {
	Metric string  `dynamo:"metric"`
	Player string  `dynamo:"player"`
	Value  float64 `dynamo:"value"`
	TTL    int64   `dynamo:"ttl,omitempty"`
}
