package registry

import "strconv"

// seatLabels generates n seat labels in rows of six, columns A..F, per
// spec.md §4.1: "1A..1F, 2A..2F, ...".
func seatLabels(n int) []string {
	cols := []byte{'A', 'B', 'C', 'D', 'E', 'F'}
	labels := make([]string, 0, n)
	row := 1
	col := 0
	for len(labels) < n {
		labels = append(labels, strconv.Itoa(row)+string(cols[col]))
		col++
		if col == len(cols) {
			col = 0
			row++
		}
	}
	return labels
}
