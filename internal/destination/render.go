package destination

import (
	"fmt"
	"strconv"
	"strings"

	"missionline/internal/domain"
	"missionline/internal/platform"
)

const (
	colorLoad    = 0x80ffff
	colorUnload  = 0x80ff80
	colorClosed  = 0x808080
	colorWarning = 0xff8000
)

func verb(k domain.MissionKind) string {
	if k == domain.KindUnload {
		return "unloading"
	}
	return "loading"
}

// preposition is where the commodity moves relative to the station.
func preposition(k domain.MissionKind) string {
	if k == domain.KindUnload {
		return "to"
	}
	return "from"
}

func padLabel(p domain.PadSize) string {
	if p == domain.PadsMedium {
		return "Medium"
	}
	return "Large"
}

func FormatProfit(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "k/unit"
}

func carrierLabel(c domain.Carrier) string {
	return fmt.Sprintf("%s (%s)", c.LongName, c.Code)
}

// Summary is the one-line description used in titles and notices.
func Summary(c domain.Carrier, p domain.MissionParams) string {
	return fmt.Sprintf("%s %s %s %s %s in %s", carrierLabel(c), verb(p.Kind), p.Commodity, preposition(p.Kind), p.Station, p.System)
}

// AlertText is the chat alert posted to the trade alerts feed.
func AlertText(c domain.Carrier, p domain.MissionParams, channelID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s, %d units, %s pads", Summary(c, p), FormatProfit(p.Profit), p.Demand, padLabel(p.Pads))
	if channelID != "" {
		fmt.Fprintf(&b, ". Details in <#%s>", channelID)
	}
	return b.String()
}

// Card is the rich mission message for the carrier channel and webhooks.
func Card(c domain.Carrier, p domain.MissionParams, image string) platform.Message {
	color := colorLoad
	if p.Kind == domain.KindUnload {
		color = colorUnload
	}
	embed := platform.Embed{
		Title:       Summary(c, p),
		Description: p.RPText,
		Color:       color,
		Fields: []platform.EmbedField{
			{Name: "Profit", Value: FormatProfit(p.Profit), Inline: true},
			{Name: "Units", Value: strconv.Itoa(p.Demand), Inline: true},
			{Name: "Pads", Value: padLabel(p.Pads), Inline: true},
		},
		Footer: "Carrier code " + c.Code,
	}
	msg := platform.Message{Embeds: []platform.Embed{embed}}
	if image != "" {
		msg.Files = []string{image}
	}
	return msg
}

func DiscussionTitle(c domain.Carrier, p domain.MissionParams) string {
	return fmt.Sprintf("%s %s %s in %s (%s), %s", carrierLabel(c), verb(p.Kind), p.Commodity, p.System, p.Station, FormatProfit(p.Profit))
}

func DiscussionBody(c domain.Carrier, p domain.MissionParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.\n\nProfit: %s\nUnits: %d\nPads: %s\n", Summary(c, p), FormatProfit(p.Profit), p.Demand, padLabel(p.Pads))
	if p.RPText != "" {
		fmt.Fprintf(&b, "\n> %s\n", p.RPText)
	}
	return b.String()
}

// ClosedCard replaces a webhook message once the mission ends.
func ClosedCard(c domain.Carrier, reason Reason) platform.Message {
	return platform.Message{Embeds: []platform.Embed{{
		Title:       fmt.Sprintf("%s: %s", carrierLabel(c), reason),
		Description: "This mission is no longer active.",
		Color:       colorClosed,
	}}}
}

func ClosingText(c domain.Carrier, reason Reason) string {
	if reason.Outcome == OutcomeFailed {
		why := reason.Text
		if why == "" {
			why = "no reason given"
		}
		return fmt.Sprintf("%s has ended this mission early (%s). Thank you to everyone who took part.", carrierLabel(c), why)
	}
	return fmt.Sprintf("%s has completed this mission. Thank you to everyone who took part.", carrierLabel(c))
}

func EchoText(c domain.Carrier, p domain.MissionParams) string {
	text := fmt.Sprintf("%s. %s, %d units, %s pads.", Summary(c, p), FormatProfit(p.Profit), p.Demand, padLabel(p.Pads))
	if p.RPText != "" {
		text += " " + p.RPText
	}
	return text
}

func warning(text string) platform.Message {
	return platform.Message{Embeds: []platform.Embed{{Description: text, Color: colorWarning}}}
}
