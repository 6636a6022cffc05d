// Package server implements the XML request/response envelope exchanged
// with the Galileo sync endpoint over HTTP(S): status checks and dump
// uploads, decoded into the shared wireerr taxonomy.
package server

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"galileosync/internal/byteutil"
	"galileosync/internal/logx"
	"galileosync/internal/wireerr"
)

// ClientID is the fixed client identifier the server expects in every
// request. Parsed at init to catch a malformed literal immediately
// rather than on the first request.
const ClientID = "6de4df71-17f9-43ea-9854-67f842021e05"

func init() {
	uuid.MustParse(ClientID)
}

const envelopeVersion = "2.0"

// ClientVersion is reported in every request; the server logs but does
// not reject a mismatch.
const ClientVersion = "1.0.0"

type clientInfo struct {
	ClientID      string `xml:"client-id"`
	ClientVersion string `xml:"client-version"`
	ClientMode    string `xml:"client-mode"`
	DongleVersion *struct {
		Major int `xml:"major,attr"`
		Minor int `xml:"minor,attr"`
	} `xml:"dongle-version,omitempty"`
}

type trackerPayload struct {
	TrackerID string `xml:"tracker-id,attr"`
	Data      string `xml:"data"`
}

type clientEnvelope struct {
	XMLName xml.Name        `xml:"galileo-client"`
	Version string          `xml:"version,attr"`
	Info    clientInfo      `xml:"client-info"`
	Tracker *trackerPayload `xml:"tracker,omitempty"`
}

type serverEnvelope struct {
	XMLName xml.Name `xml:"galileo-server"`
	Version string   `xml:"version,attr"`
	Error   *string  `xml:"error"`
	BackOff *struct {
		Min int `xml:"min"`
		Max int `xml:"max"`
	} `xml:"back-off"`
	Tracker *struct {
		Type      string `xml:"type,attr"`
		TrackerID string `xml:"tracker-id,attr"`
		Data      string `xml:"data"`
	} `xml:"tracker"`
}

// Client talks to one sync endpoint over HTTP(S).
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	DongleMajor int
	DongleMinor int
}

// NewClient returns a Client posting to baseURL with a sane default
// HTTP timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestStatus posts a status-mode request and validates the response
// envelope, surfacing any <error>/<back-off> as an error.
func (c *Client) RequestStatus() error {
	_, err := c.exchange("status", "", "")
	return err
}

// Sync posts a sync-mode request carrying the base64 dump for
// trackerID and returns the decoded megadumpresponse body.
func (c *Client) Sync(trackerID string, dumpBase64 string) ([]byte, error) {
	resp, err := c.exchange("sync", trackerID, dumpBase64)
	if err != nil {
		return nil, err
	}
	if resp.Tracker == nil {
		return nil, &wireerr.SyncError{Msg: "server response missing tracker element"}
	}
	if resp.Tracker.TrackerID != "" && resp.Tracker.TrackerID != trackerID {
		return nil, &wireerr.SyncError{Msg: fmt.Sprintf(
			"response tracker-id %q does not match request %q", resp.Tracker.TrackerID, trackerID)}
	}
	if resp.Tracker.Type != "megadumpresponse" {
		logx.Warnf("server: unexpected tracker response type %q", resp.Tracker.Type)
	}
	data, err := byteutil.Base64Decode(resp.Tracker.Data)
	if err != nil {
		return nil, &wireerr.SyncError{Msg: "malformed response data: " + err.Error()}
	}
	return data, nil
}

func (c *Client) exchange(mode, trackerID, dumpBase64 string) (*serverEnvelope, error) {
	env := clientEnvelope{
		Version: envelopeVersion,
		Info: clientInfo{
			ClientID:      ClientID,
			ClientVersion: ClientVersion,
			ClientMode:    mode,
		},
	}
	if mode == "sync" {
		env.Info.DongleVersion = &struct {
			Major int `xml:"major,attr"`
			Minor int `xml:"minor,attr"`
		}{Major: c.DongleMajor, Minor: c.DongleMinor}
		env.Tracker = &trackerPayload{TrackerID: trackerID, Data: dumpBase64}
	}

	body, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("server: encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wireerr.ErrConnection, err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wireerr.ErrConnection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wireerr.ErrConnection, err)
	}

	var out serverEnvelope
	if err := xml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", wireerr.ErrConnection, err)
	}
	if out.Version != "" && out.Version != envelopeVersion {
		logx.Warnf("server: protocol version mismatch: got %q, want %q", out.Version, envelopeVersion)
	}
	if out.Error != nil {
		return nil, &wireerr.SyncError{Msg: *out.Error}
	}
	if out.BackOff != nil {
		return nil, &wireerr.BackOff{Min: out.BackOff.Min, Max: out.BackOff.Max}
	}
	return &out, nil
}
