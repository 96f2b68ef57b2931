package fusion

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeScanOrdering(t *testing.T) {
	idx := BucketIndex{45: 2000, -10: 800, 0: 1200}
	msg := string(EncodeScan(idx))

	if !strings.HasPrefix(msg, RawScanPrefix) {
		t.Fatalf("message missing prefix: %q", msg)
	}
	want := RawScanPrefix + "-10,800;0,1200;45,2000;"
	if msg != want {
		t.Errorf("EncodeScan = %q, want %q", msg, want)
	}
}

func TestScanRoundTrip(t *testing.T) {
	idx := BucketIndex{-90: 100.25, -10: 800, 0: 1200.5, 45: 2000, 90: 2999.75}
	got, err := ParseScan(EncodeScan(idx))
	if err != nil {
		t.Fatalf("ParseScan: %v", err)
	}
	if diff := cmp.Diff(idx, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeScanEmpty(t *testing.T) {
	got, err := ParseScan(EncodeScan(BucketIndex{}))
	if err != nil {
		t.Fatalf("ParseScan: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty index, got %v", got)
	}
}

func TestParseScanTrailingSeparatorOptional(t *testing.T) {
	for _, msg := range []string{
		"LIDAR_DATA -10,800;0,1200",
		"LIDAR_DATA -10,800;0,1200;",
	} {
		idx, err := ParseScan([]byte(msg))
		if err != nil {
			t.Fatalf("ParseScan(%q): %v", msg, err)
		}
		if len(idx) != 2 || idx[-10] != 800 || idx[0] != 1200 {
			t.Errorf("ParseScan(%q) = %v", msg, idx)
		}
	}
}

func TestParseScanRejectsGarbage(t *testing.T) {
	for _, msg := range []string{
		"OBJECTS {}",
		"LIDAR_DATA nope",
		"LIDAR_DATA 1,2;x,y;",
		"LIDAR_DATA 1.5,800;",
	} {
		if _, err := ParseScan([]byte(msg)); err == nil {
			t.Errorf("ParseScan(%q) should fail", msg)
		}
	}
}
