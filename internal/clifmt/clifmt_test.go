package clifmt

import "testing"

func TestRiskPassthroughWithoutColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	for _, tier := range []string{"low", "medium", "high", "weird"} {
		if got := Risk(tier); got != tier {
			t.Fatalf("Risk(%q) = %q with color disabled", tier, got)
		}
	}
}

func TestHelpersPassthroughWithoutColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if got := Key("name:"); got != "name:" {
		t.Fatalf("Key = %q with color disabled", got)
	}
	if got := Headerf("round %d", 2); got != "round 2" {
		t.Fatalf("Headerf = %q with color disabled", got)
	}
}
