// Package twiml renders the call-control documents returned to Twilio webhooks
package twiml

import "strings"

// MediaStreamPath is the WebSocket path Twilio is told to stream call audio to
const MediaStreamPath = "/media-stream"

// Greeting is spoken on the legacy /voice webhook before the stream opens
const Greeting = "Hi there! You're connected to our support assistant. You can start talking now."

const header = `<?xml version="1.0" encoding="UTF-8"?>`

// StreamURL returns the secure WebSocket URL for host, or "" when host is empty
func StreamURL(host string) string {
	if host == "" {
		return ""
	}
	return "wss://" + host + MediaStreamPath
}

// ConnectStream renders a <Connect><Stream> document for streamURL. A non-empty
// say is spoken before the stream is connected.
func ConnectStream(streamURL, say string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n<Response>\n")
	if say != "" {
		b.WriteString("    <Say>")
		b.WriteString(textEscaper.Replace(say))
		b.WriteString("</Say>\n")
	}
	b.WriteString("    <Connect>\n")
	b.WriteString(`        <Stream url="`)
	b.WriteString(attrEscaper.Replace(streamURL))
	b.WriteString("\" />\n")
	b.WriteString("    </Connect>\n")
	b.WriteString("</Response>")
	return b.String()
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)
