package fusion

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RawScanPrefix introduces the raw downsampled scan on the wire. The payload
// is ASCII "<bucket_angle>,<distance_mm>;" entries ascending by bucket angle.
const RawScanPrefix = "LIDAR_DATA "

// EncodeScan renders a bucket index as a raw-scan wire message.
func EncodeScan(idx BucketIndex) []byte {
	buckets := make([]int, 0, len(idx))
	for b := range idx {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)

	var sb strings.Builder
	sb.WriteString(RawScanPrefix)
	for _, b := range buckets {
		sb.WriteString(strconv.Itoa(b))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(idx[b], 'f', -1, 64))
		sb.WriteByte(';')
	}
	return []byte(sb.String())
}

// ParseScan parses a raw-scan wire message back into a bucket index. Used by
// scan consumers and to verify encode/parse round trips. A trailing separator
// is accepted but not required.
func ParseScan(msg []byte) (BucketIndex, error) {
	s := string(msg)
	if !strings.HasPrefix(s, RawScanPrefix) {
		return nil, fmt.Errorf("not a raw scan message")
	}
	body := strings.TrimSuffix(s[len(RawScanPrefix):], ";")
	idx := make(BucketIndex)
	if body == "" {
		return idx, nil
	}
	for _, entry := range strings.Split(body, ";") {
		angleStr, distStr, ok := strings.Cut(entry, ",")
		if !ok {
			return nil, fmt.Errorf("malformed scan entry %q", entry)
		}
		bucket, err := strconv.Atoi(angleStr)
		if err != nil {
			return nil, fmt.Errorf("malformed bucket angle %q: %w", angleStr, err)
		}
		dist, err := strconv.ParseFloat(distStr, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed distance %q: %w", distStr, err)
		}
		idx[bucket] = dist
	}
	return idx, nil
}
