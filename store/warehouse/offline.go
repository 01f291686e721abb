// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package warehouse

// Offline is a no-op Appender for development without cloud credentials.
type Offline struct{}

func (Offline) Append(batch []Record) error {
	return nil
}
