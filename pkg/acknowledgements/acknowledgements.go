// Package acknowledgements builds and delivers DDEX acknowledgement messages
// for sources that require a receipt per delivery.
package acknowledgements

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/poller"
	"github.com/tonefeed/ddexd/pkg/sources"
)

// Transmitter posts a rendered acknowledgement document to a source's
// gateway.
type Transmitter interface {
	Transmit(ctx context.Context, src sources.Source, body []byte) error
}

type Service struct {
	transmitter Transmitter

	// SenderPartyID and SenderName identify us in the message header.
	SenderPartyID string
	SenderName    string

	// Now stamps MessageCreatedDateTime. Overridable in tests.
	Now func() time.Time
}

func NewService(transmitter Transmitter, senderPartyID, senderName string) *Service {
	return &Service{
		transmitter:   transmitter,
		SenderPartyID: senderPartyID,
		SenderName:    senderName,
		Now:           time.Now,
	}
}

// ReleaseSuccess acknowledges a fully ingested delivery.
func (svc *Service) ReleaseSuccess(ctx context.Context, src sources.Source, r poller.Receipt) error {
	return svc.send(ctx, src, r, nil)
}

// ReleaseFailure acknowledges a delivery that could not be processed.
func (svc *Service) ReleaseFailure(ctx context.Context, src sources.Source, r poller.Receipt, cause error) error {
	if cause == nil {
		cause = errors.New("processing failed")
	}
	return svc.send(ctx, src, r, cause)
}

func (svc *Service) send(ctx context.Context, src sources.Source, r poller.Receipt, cause error) error {
	body, err := svc.Build(src, r, cause)
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Data(logger.Data{
		"source":  src.Name,
		"xml_url": r.XMLURL,
		"success": cause == nil,
	}).Info("sending delivery acknowledgement")

	return svc.transmitter.Transmit(ctx, src, body)
}

// Build renders the acknowledgement document for a receipt. A nil cause
// produces a success message.
func (svc *Service) Build(src sources.Source, r poller.Receipt, cause error) ([]byte, error) {
	msg := acknowledgementMessage{
		XSNamespace:  "http://www.w3.org/2001/XMLSchema-instance",
		ErnNamespace: "http://ddex.net/xml/ern-c-sftp/18",
		AvsVersionID: "4",
		Header: ackHeader{
			MessageID: r.MessageID,
			Sender: ackParty{
				PartyID: svc.SenderPartyID,
				Name:    ackPartyName{FullName: svc.SenderName},
			},
			Recipient: ackParty{
				PartyID: recipientPartyID(src),
				Name:    ackPartyName{FullName: recipientPartyName(src)},
			},
			CreatedDateTime: svc.Now().UTC().Format(time.RFC3339),
		},
	}

	for _, release := range r.Releases {
		msg.ReleaseStatus = append(msg.ReleaseStatus, releaseStatus{
			ReleaseID: ackReleaseID(release),
			Status:    statusValue(cause),
			Ack:       buildAck(r.MessageID, cause),
		})
	}
	if len(r.Releases) == 0 {
		ack := buildAck(r.MessageID, cause)
		msg.Ack = &ack
	}

	body, err := xml.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return append([]byte(xml.Header), body...), nil
}

type acknowledgementMessage struct {
	XMLName      xml.Name `xml:"ern:AcknowledgementMessage"`
	XSNamespace  string   `xml:"xmlns:xs,attr"`
	ErnNamespace string   `xml:"xmlns:ern,attr"`
	AvsVersionID string   `xml:"AvsVersionId,attr"`

	Header        ackHeader        `xml:"MessageHeader"`
	ReleaseStatus []releaseStatus  `xml:"ReleaseStatus,omitempty"`
	Ack           *acknowledgement `xml:"Acknowledgement,omitempty"`
}

type ackHeader struct {
	MessageID       string   `xml:"MessageId"`
	Sender          ackParty `xml:"MessageSender"`
	Recipient       ackParty `xml:"MessageRecipient"`
	CreatedDateTime string   `xml:"MessageCreatedDateTime"`
}

type ackParty struct {
	PartyID string       `xml:"PartyId"`
	Name    ackPartyName `xml:"PartyName"`
}

type ackPartyName struct {
	FullName string `xml:"FullName"`
}

type releaseID struct {
	GRid          string `xml:"GRid,omitempty"`
	CatalogNumber string `xml:"CatalogNumber,omitempty"`
	ICPN          string `xml:"ICPN,omitempty"`
	ProprietaryID string `xml:"ProprietaryId,omitempty"`
}

type releaseStatus struct {
	ReleaseID releaseID       `xml:"ReleaseId"`
	Status    string          `xml:"ReleaseStatus"`
	Ack       acknowledgement `xml:"Acknowledgement"`
}

type acknowledgement struct {
	MessageType string           `xml:"MessageType"`
	MessageID   string           `xml:"MessageId"`
	Status      ackMessageStatus `xml:"MessageStatus"`
}

type ackMessageStatus struct {
	Status        string `xml:"Status"`
	StatusMessage string `xml:"StatusMessage,omitempty"`
}

// ackReleaseID picks a single identifier for the status entry, preferring
// GRid, then catalog number, ICPN, and proprietary id, falling back to the
// in-document reference.
func ackReleaseID(release *ddex.Release) releaseID {
	ids := release.ReleaseIDs
	switch {
	case ids.GRid != "":
		return releaseID{GRid: ids.GRid}
	case ids.CatalogNumber != "":
		return releaseID{CatalogNumber: ids.CatalogNumber}
	case ids.ICPN != "":
		return releaseID{ICPN: ids.ICPN}
	case ids.ProprietaryID != "":
		return releaseID{ProprietaryID: ids.ProprietaryID}
	default:
		return releaseID{ProprietaryID: release.Ref}
	}
}

func statusValue(cause error) string {
	if cause == nil {
		return "SuccessfullyIngestedByReleaseDistributor"
	}
	return "ProcessingErrorAtReleaseDistributor"
}

func buildAck(messageID string, cause error) acknowledgement {
	ack := acknowledgement{
		MessageType: "NewReleaseMessage",
		MessageID:   messageID,
		Status:      ackMessageStatus{Status: "FileOK"},
	}
	if cause != nil {
		ack.Status = ackMessageStatus{
			Status:        "ResourceCorrupt",
			StatusMessage: cause.Error(),
		}
	}
	return ack
}

func recipientPartyID(src sources.Source) string {
	if src.AcknowledgementPartyID != "" {
		return src.AcknowledgementPartyID
	}
	return strings.ToUpper(src.Name)
}

func recipientPartyName(src sources.Source) string {
	if src.AcknowledgementPartyName != "" {
		return src.AcknowledgementPartyName
	}
	return src.Name
}
