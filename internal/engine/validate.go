package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"missionline/internal/commodity"
	"missionline/internal/domain"
)

// Input is mission data as typed by a user. Numbers stay strings until validated
// so that forms like "15k" and "20,000" can be coerced.
type Input struct {
	Kind      string `json:"kind,omitempty"`
	Commodity string `json:"commodity,omitempty"`
	Station   string `json:"station,omitempty"`
	System    string `json:"system,omitempty"`
	Profit    string `json:"profit,omitempty"`
	Pads      string `json:"pads,omitempty"`
	Demand    string `json:"demand,omitempty"`
	RPText    string `json:"rp_text,omitempty"`
}

// InputFrom renders stored params back into user form, the base an edit is applied to.
func InputFrom(p domain.MissionParams) Input {
	return Input{
		Kind:      string(p.Kind),
		Commodity: p.Commodity,
		Station:   p.Station,
		System:    p.System,
		Profit:    strconv.FormatFloat(p.Profit, 'f', -1, 64),
		Pads:      string(p.Pads),
		Demand:    strconv.Itoa(p.Demand),
		RPText:    p.RPText,
	}
}

// Merge overlays the non-empty fields of patch onto in.
func (in Input) Merge(patch Input) Input {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&in.Kind, patch.Kind)
	set(&in.Commodity, patch.Commodity)
	set(&in.Station, patch.Station)
	set(&in.System, patch.System)
	set(&in.Profit, patch.Profit)
	set(&in.Pads, patch.Pads)
	set(&in.Demand, patch.Demand)
	set(&in.RPText, patch.RPText)
	return in
}

// Validate turns user input into mission params, resolving the commodity name.
func Validate(in Input, cat commodity.Catalogue) (domain.MissionParams, error) {
	var p domain.MissionParams
	var err error
	if p.Kind, err = ParseKind(in.Kind); err != nil {
		return p, err
	}
	p.Commodity, err = cat.Lookup(in.Commodity)
	if err != nil {
		return p, ValidationError{Field: "commodity", Reason: commodityReason(err), Err: err}
	}
	if p.Station = strings.TrimSpace(in.Station); p.Station == "" {
		return p, ValidationError{Field: "station", Reason: "required"}
	}
	if p.System = strings.TrimSpace(in.System); p.System == "" {
		return p, ValidationError{Field: "system", Reason: "required"}
	}
	if p.Profit, err = ParseProfit(in.Profit); err != nil {
		return p, err
	}
	if p.Pads, err = ParsePads(in.Pads); err != nil {
		return p, err
	}
	if p.Demand, err = ParseDemand(in.Demand); err != nil {
		return p, err
	}
	p.RPText = strings.TrimSpace(in.RPText)
	return p, nil
}

func commodityReason(err error) string {
	var amb commodity.AmbiguousError
	if errors.As(err, &amb) {
		return "matches " + strings.Join(amb.Matches, ", ")
	}
	return "not in the commodity list"
}

func ParseKind(s string) (domain.MissionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "load", "loading":
		return domain.KindLoad, nil
	case "unload", "unloading":
		return domain.KindUnload, nil
	}
	return "", ValidationError{Field: "kind", Reason: "must be load or unload"}
}

// ParseProfit reads profit in thousands of credits per unit. A trailing k is
// accepted and ignored, so "15", "15.5" and "15k" are all valid.
func ParseProfit(s string) (float64, error) {
	v := strings.TrimSpace(strings.ToLower(s))
	v = strings.TrimSuffix(v, "k")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ValidationError{Field: "profit", Reason: "must be a number such as 15 or 15.5", Err: err}
	}
	if f <= 0 {
		return 0, ValidationError{Field: "profit", Reason: "must be positive"}
	}
	return f, nil
}

func ParsePads(s string) (domain.PadSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l", "large":
		return domain.PadsLarge, nil
	case "m", "medium":
		return domain.PadsMedium, nil
	}
	return "", ValidationError{Field: "pads", Reason: "must be L or M"}
}

// maxDemand keeps demand within a 32-bit count on every platform.
const maxDemand = math.MaxInt32

// ParseDemand reads a unit count; "20k" and "20,000" both mean 20000.
func ParseDemand(s string) (int, error) {
	v := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), ",", "")
	mult := 1.0
	if strings.HasSuffix(v, "k") {
		mult = 1000
		v = strings.TrimSuffix(v, "k")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ValidationError{Field: "demand", Reason: "must be a whole number of units", Err: err}
	}
	units := math.Round(f * mult)
	if units <= 0 {
		return 0, ValidationError{Field: "demand", Reason: "must be positive"}
	}
	if units > maxDemand {
		return 0, ValidationError{Field: "demand", Reason: fmt.Sprintf("must be at most %d units", maxDemand)}
	}
	return int(units), nil
}

// checkTargets enforces that discussion and webhook posts hang off a chat alert.
func checkTargets(t domain.Targets) error {
	if !t.Chat && !t.Discussion && !t.Webhooks && !t.Echo {
		return ValidationError{Field: "targets", Reason: "select at least one target"}
	}
	if (t.Discussion || t.Webhooks) && !t.Chat {
		return ValidationError{Field: "targets", Reason: "discussion and webhook targets require chat"}
	}
	return nil
}
