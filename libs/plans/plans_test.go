package plans

import (
	"math"
	"testing"
)

func TestLimitsFor_UnknownFallsBackToFree(t *testing.T) {
	free := LimitsFor(Free)
	for _, p := range []Plan{"", "platinum", "FREE", Plan("pro ")} {
		if got := LimitsFor(p); got != free {
			t.Fatalf("LimitsFor(%q) = %+v, want free %+v", p, got, free)
		}
	}
	if LimitsFor(Enterprise).Appointments != Unlimited {
		t.Fatal("expected enterprise appointments to be unlimited")
	}
}

func TestParsePlan(t *testing.T) {
	cases := map[string]Plan{
		"pro":        Pro,
		" Starter ":  Starter,
		"ENTERPRISE": Enterprise,
		"gold":       Free,
		"":           Free,
	}
	for raw, want := range cases {
		if got := ParsePlan(raw); got != want {
			t.Fatalf("ParsePlan(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestHasAccess(t *testing.T) {
	cases := []struct {
		plan    Plan
		feature Feature
		want    bool
	}{
		{Free, FeatureChat, false},
		{Starter, FeatureChat, true},
		{Pro, FeatureInventory, true},
		{Starter, FeatureInventory, false},
		{Enterprise, FeatureAPIAccess, true},
		{Pro, FeatureAPIAccess, false},
		{Plan("gold"), FeatureChat, false},
		{Enterprise, Feature("teleport"), false},
	}
	for _, tc := range cases {
		if got := HasAccess(tc.plan, tc.feature); got != tc.want {
			t.Fatalf("HasAccess(%q, %q) = %v, want %v", tc.plan, tc.feature, got, tc.want)
		}
	}
}

func TestFeatureGrantsAreMonotonic(t *testing.T) {
	tiers := []Plan{Free, Starter, Pro, Enterprise}
	for i := 1; i < len(tiers); i++ {
		lower, higher := tiers[i-1], tiers[i]
		for _, f := range AllFeatures {
			if HasAccess(lower, f) && !HasAccess(higher, f) {
				t.Fatalf("%s grants %s but %s does not", lower, f, higher)
			}
		}
	}
}

func TestWithinAppointmentLimit(t *testing.T) {
	if !WithinAppointmentLimit(Free, 19) {
		t.Fatal("expected 19 to be within the free limit")
	}
	if WithinAppointmentLimit(Free, 20) {
		t.Fatal("expected 20 to hit the free limit")
	}
	if !WithinAppointmentLimit(Enterprise, 1_000_000) {
		t.Fatal("expected enterprise to be unlimited")
	}
	if WithinAppointmentLimit(Plan("bogus"), 20) {
		t.Fatal("expected unknown plan to use free limits")
	}
}

func TestWithinStorageLimit_ComparesProjectedUsage(t *testing.T) {
	limit := LimitsFor(Free).StorageBytes
	if !WithinStorageLimit(Free, limit-1) {
		t.Fatal("expected limit-1 to be within")
	}
	if WithinStorageLimit(Free, limit) {
		t.Fatal("expected projected usage equal to the limit to be denied")
	}
	if !WithinStorageLimit(Enterprise, 1<<50) {
		t.Fatal("expected enterprise storage to be unlimited")
	}
}

func TestProjectBytes(t *testing.T) {
	if got, ok := ProjectBytes(10, -4); !ok || got != 6 {
		t.Fatalf("expected 6, got %d ok=%v", got, ok)
	}
	if _, ok := ProjectBytes(math.MaxInt64, 1); ok {
		t.Fatal("expected overflow past MaxInt64")
	}
	if _, ok := ProjectBytes(math.MinInt64, -1); ok {
		t.Fatal("expected overflow past MinInt64")
	}
	if got, ok := ProjectBytes(math.MaxInt64-1, 1); !ok || got != math.MaxInt64 {
		t.Fatalf("expected MaxInt64, got %d ok=%v", got, ok)
	}
}

func TestWithinVehicleLimit(t *testing.T) {
	limit := LimitsFor(Starter).Vehicles
	if !WithinVehicleLimit(Starter, limit-1) || WithinVehicleLimit(Starter, limit) {
		t.Fatalf("unexpected vehicle limit behavior around %d", limit)
	}
}

func TestFormatStorageSize(t *testing.T) {
	cases := map[int64]string{
		-1:                 "Unlimited",
		0:                  "0 B",
		512:                "512 B",
		1024:               "1 KB",
		1536:               "2 KB",
		100 * 1024 * 1024:  "100 MB",
		1024 * 1024 * 1024: "1 GB",
		5 << 40:            "5120 GB",
	}
	for in, want := range cases {
		if got := FormatStorageSize(in); got != want {
			t.Fatalf("FormatStorageSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestNewReport(t *testing.T) {
	r := NewReport(Free, Usage{AppointmentsUsed: 16, StorageUsed: 10 * 1024 * 1024})
	if r.AppointmentUsagePercentage != 80 {
		t.Fatalf("expected 80%%, got %v", r.AppointmentUsagePercentage)
	}
	if !r.NearAppointmentLimit {
		t.Fatal("expected near appointment limit at 80%")
	}
	if r.NearStorageLimit {
		t.Fatal("did not expect near storage limit at 10%")
	}
	if r.StorageLimit != "100 MB" || r.StorageUsed != "10 MB" {
		t.Fatalf("unexpected storage strings: %q / %q", r.StorageUsed, r.StorageLimit)
	}

	over := NewReport(Free, Usage{AppointmentsUsed: 45})
	if over.AppointmentUsagePercentage != 100 || over.CanCreateAppointment {
		t.Fatalf("expected capped percentage and no capacity, got %+v", over)
	}

	ent := NewReport(Enterprise, Usage{AppointmentsUsed: 10_000, StorageUsed: 1 << 40})
	if ent.AppointmentUsagePercentage != 0 || ent.NearAppointmentLimit || ent.NearStorageLimit {
		t.Fatalf("unlimited plan should report no pressure, got %+v", ent)
	}
	if ent.StorageLimit != "Unlimited" {
		t.Fatalf("expected Unlimited, got %q", ent.StorageLimit)
	}
}
