package models

// ReceivedFile describes a file saved to the download directory.
type ReceivedFile struct {
	Sender   string `json:"sender"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Received int64  `json:"received"`
	Path     string `json:"path"`
	Group    string `json:"group,omitempty"`
}

// Complete reports whether every announced byte arrived.
func (f ReceivedFile) Complete() bool {
	return f.Received == f.Size
}
