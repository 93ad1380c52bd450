package stream

// Channel identifies one metric stream.
type Channel string

const (
	Energy  Channel = "kwh"
	Current Channel = "arus"
	Voltage Channel = "tegangan"
	Power   Channel = "daya"
)

// Channels lists every channel in display order.
var Channels = []Channel{Energy, Current, Voltage, Power}

// ChannelInfo carries the display hints a chart needs for a channel.
type ChannelInfo struct {
	Channel      Channel `json:"channel"`
	Title        string  `json:"title"`
	Label        string  `json:"label"`
	Unit         string  `json:"unit"`
	Color        string  `json:"color"`
	Precision    int     `json:"precision"`
	BeginAtZero  bool    `json:"begin_at_zero"`
	Min          float64 `json:"min,omitempty"`
	Max          float64 `json:"max,omitempty"`
	SuggestedMax float64 `json:"suggested_max,omitempty"`
}

var channelInfo = map[Channel]ChannelInfo{
	Energy: {
		Channel: Energy, Title: "Energi Listrik", Label: "KWH", Unit: "kWh",
		Color: "rgba(255, 99, 132, 1)", Precision: 2, BeginAtZero: true, SuggestedMax: 10,
	},
	Current: {
		Channel: Current, Title: "Arus Listrik", Label: "Arus", Unit: "A",
		Color: "rgba(54, 162, 235, 1)", Precision: 2, BeginAtZero: true, SuggestedMax: 30,
	},
	Voltage: {
		Channel: Voltage, Title: "Tegangan Listrik", Label: "Tegangan", Unit: "V",
		Color: "rgba(75, 192, 192, 1)", Precision: 1, Min: 100, Max: 250,
	},
	Power: {
		Channel: Power, Title: "Daya Listrik", Label: "Daya", Unit: "W",
		Color: "rgba(255, 206, 86, 1)", Precision: 0, BeginAtZero: true, SuggestedMax: 6600,
	},
}

// Info returns the display hints for c.
func Info(c Channel) ChannelInfo {
	return channelInfo[c]
}
