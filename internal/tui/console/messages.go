package console

// connectedMsg is sent once the session is established
type connectedMsg struct {
	session Session
}

// outputMsg carries a chunk written by the server
type outputMsg struct {
	text string
}

// disconnectedMsg is sent when the session ended or could not be opened
type disconnectedMsg struct {
	err error
}
