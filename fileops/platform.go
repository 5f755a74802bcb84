/*
Copyright © 2026 The Pipeline Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package fileops

import (
	"os"
	"strings"
)

const osCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// isCrossDevice reports whether err looks like the platform's
// "invalid cross-device link" error, which afero's MemMapFs never returns
// but a real OsFs does whenever Move crosses a mount point. In that case
// Move falls back to copy-then-remove instead of the atomic rename.
func isCrossDevice(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "cross-device link")
}
