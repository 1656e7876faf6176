package models

// DirectMessage is a point-to-point text message received over TCP.
type DirectMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
	Raw  string `json:"raw"`
}

// GroupMessage is a group chat line received over the discovery channel.
type GroupMessage struct {
	Group   string `json:"group"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}
