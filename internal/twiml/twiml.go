// Package twiml builds the XML-shaped instruction document the provider
// fetches at call time.
package twiml

import (
	"bytes"
	"encoding/xml"
)

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Verbs     []any
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Render serializes the response with the XML declaration the provider
// expects.
func (r *Response) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// BroadcastScript is the standard call flow: spoken disclaimer, a
// single-digit opt-out gather, the broadcast audio, hangup. The gather
// wraps its own prompt so the keypress window overlaps the prompt.
func BroadcastScript(audioURL, disclaimer, keypressURL string) *Response {
	verbs := []any{}
	if disclaimer != "" {
		verbs = append(verbs, Say{Text: disclaimer})
	}
	verbs = append(verbs,
		Gather{
			NumDigits: 1,
			Timeout:   3,
			Action:    keypressURL,
			Method:    "POST",
			Verbs: []any{
				Say{Text: "Press 9 to stop receiving these calls."},
			},
		},
		Play{URL: audioURL},
		Hangup{},
	)
	return &Response{Verbs: verbs}
}

// ErrorScript is the degraded document: the callee hears a polite
// termination, never silence.
func ErrorScript() *Response {
	return &Response{Verbs: []any{
		Say{Text: "We are sorry, this call cannot be completed right now. Goodbye."},
		Hangup{},
	}}
}

// OptOutConfirmation acknowledges a keypress opt-out and hangs up.
func OptOutConfirmation() *Response {
	return &Response{Verbs: []any{
		Say{Text: "You have been removed from this call list. Goodbye."},
		Hangup{},
	}}
}

// InvalidOption answers any digit other than 9.
func InvalidOption() *Response {
	return &Response{Verbs: []any{
		Say{Text: "Invalid option. Goodbye."},
		Hangup{},
	}}
}
