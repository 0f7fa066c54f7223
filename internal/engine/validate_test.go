package engine

import (
	"errors"
	"strings"
	"testing"

	"missionline/internal/commodity"
	"missionline/internal/domain"
)

func TestParseProfit(t *testing.T) {
	for in, want := range map[string]float64{"15": 15, "15.5": 15.5, "15k": 15, " 7K ": 7} {
		got, err := ParseProfit(in)
		if err != nil || got != want {
			t.Fatalf("ParseProfit(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "abc", "-3", "0", "NaN"} {
		if _, err := ParseProfit(in); err == nil {
			t.Fatalf("ParseProfit(%q) should fail", in)
		}
	}
}

func TestParseDemandAndPads(t *testing.T) {
	for in, want := range map[string]int{"20000": 20000, "20k": 20000, "20,000": 20000, "1.5k": 1500} {
		got, err := ParseDemand(in)
		if err != nil || got != want {
			t.Fatalf("ParseDemand(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"0", "-5", "1e30", "3000000k"} {
		var ve ValidationError
		if _, err := ParseDemand(in); !errors.As(err, &ve) || ve.Field != "demand" {
			t.Fatalf("ParseDemand(%q) should fail, got %v", in, err)
		}
	}
	if _, err := ParseDemand("1e30"); err == nil || !strings.Contains(err.Error(), "at most") {
		t.Fatalf("oversized demand reported as %v", err)
	}
	if p, err := ParsePads("Medium"); err != nil || p != domain.PadsMedium {
		t.Fatalf("ParsePads = %v, %v", p, err)
	}
	var ve ValidationError
	if _, err := ParsePads("small"); !errors.As(err, &ve) || ve.Field != "pads" {
		t.Fatalf("expected pads error, got %v", err)
	}
}

func TestValidateAmbiguousCommodity(t *testing.T) {
	in := Input{Kind: "unload", Commodity: "liq", Station: "s", System: "x", Profit: "1", Pads: "M", Demand: "1"}
	_, err := Validate(in, commodity.Default())
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Field != "commodity" {
		t.Fatalf("expected commodity error, got %v", err)
	}
	var amb commodity.AmbiguousError
	if !errors.As(err, &amb) {
		t.Fatalf("cause not kept: %v", err)
	}
}

func TestMergeKeepsUnsetFields(t *testing.T) {
	base := InputFrom(domain.MissionParams{Kind: domain.KindLoad, Commodity: "Gold", Station: "A", System: "B", Profit: 15, Pads: domain.PadsLarge, Demand: 100})
	got := base.Merge(Input{Station: "C"})
	if got.Station != "C" || got.Commodity != "Gold" || got.Profit != "15" {
		t.Fatalf("merge = %+v", got)
	}
}
