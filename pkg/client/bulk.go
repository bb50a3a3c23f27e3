package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// BulkItem is one line of a bulk snipe file.
type BulkItem struct {
	Listing string
	MaxBid  string
}

// ParseBulk reads a bulk snipe file: one snipe per line, listing (number or
// URL) followed by the maximum bid, whitespace separated. Blank lines and
// lines starting with '#' are skipped.
func ParseBulk(r io.Reader) ([]BulkItem, error) {
	var items []BulkItem
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<listing> <max_bid>\", got %q", lineNo, line)
		}
		listing, err := ParseListing(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		items = append(items, BulkItem{Listing: listing, MaxBid: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no snipes found")
	}
	return items, nil
}
