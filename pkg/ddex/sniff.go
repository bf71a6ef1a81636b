package ddex

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/pkg/errors"
)

// rootInfo identifies a document without fully decoding it.
type rootInfo struct {
	name      string
	namespace string
}

func sniffRoot(body []byte) (rootInfo, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rootInfo{}, errors.New("document has no root element")
		}
		if err != nil {
			return rootInfo{}, errors.WithStack(err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return rootInfo{name: start.Name.Local, namespace: start.Name.Space}, nil
		}
	}
}

// messageHeader matches the MessageHeader block regardless of the root
// element's name, so it works for all message kinds.
type messageHeader struct {
	Header struct {
		MessageID              string `xml:"MessageId"`
		MessageCreatedDateTime string `xml:"MessageCreatedDateTime"`
	} `xml:"MessageHeader"`
}

func sniffHeader(body []byte) messageHeader {
	var h messageHeader
	// Best effort. A document without a header still parses; staleness
	// checks then treat it as older than anything timestamped.
	_ = xml.Unmarshal(body, &h)
	return h
}

// unmarshalAnyRoot decodes into a struct with no XMLName field, so the root
// element's name is not checked.
func unmarshalAnyRoot(body []byte, v interface{}) error {
	return errors.WithStack(xml.Unmarshal(body, v))
}

// SniffTimestamp extracts MessageCreatedDateTime without a full parse. The
// poller uses it to order a batch of documents before ingesting them.
func SniffTimestamp(body []byte) string {
	return sniffHeader(body).Header.MessageCreatedDateTime
}
