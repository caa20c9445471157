package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Endpoint is one device gateway instance and the channels it can serve.
type Endpoint struct {
	URL      string
	Channels []string
}

func (e Endpoint) supports(channel string) bool {
	for _, c := range e.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// SelectionPolicy picks which capable endpoint handles the next send.
// Candidates is never empty.
type SelectionPolicy func(candidates []Endpoint) Endpoint

// RoundRobin spreads sends across the capable endpoints in order.
func RoundRobin() SelectionPolicy {
	var next atomic.Uint64
	return func(candidates []Endpoint) Endpoint {
		n := next.Add(1) - 1
		return candidates[n%uint64(len(candidates))]
	}
}

// Gateway delivers messages of one channel through HTTP device gateways
// (SMS/RCS senders, an iMessage bridge). The gateway answers 202 when it
// accepts a message for delivery.
type Gateway struct {
	channel   string
	endpoints []Endpoint
	pick      SelectionPolicy
	client    *http.Client
}

var _ Adapter = (*Gateway)(nil)

// NewGateway keeps only the endpoints capable of the given channel; it is an
// error if none qualify. A nil policy defaults to round-robin.
func NewGateway(channel string, endpoints []Endpoint, pick SelectionPolicy) (*Gateway, error) {
	var capable []Endpoint
	for _, e := range endpoints {
		if e.supports(channel) {
			capable = append(capable, e)
		}
	}
	if len(capable) == 0 {
		return nil, fmt.Errorf("no gateway endpoint supports channel %q", channel)
	}
	if pick == nil {
		pick = RoundRobin()
	}

	return &Gateway{
		channel:   channel,
		endpoints: capable,
		pick:      pick,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

type gatewaySendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Channel   string `json:"channel"`
}

func (g *Gateway) AttemptDelivery(ctx context.Context, recipient, body string) Result {
	endpoint := g.pick(g.endpoints)

	reqBody, err := json.Marshal(gatewaySendRequest{
		Recipient: recipient,
		Message:   body,
		Channel:   g.channel,
	})
	if err != nil {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(reqBody))
	if err != nil {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{Status: StatusTransientFailure, Reason: fmt.Sprintf("gateway unreachable: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return Result{Status: StatusAccepted}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{
			Status: StatusRejected,
			Reason: fmt.Sprintf("gateway rejected send: status=%d body=%q", resp.StatusCode, string(respBody)),
		}
	default:
		return Result{
			Status: StatusTransientFailure,
			Reason: fmt.Sprintf("gateway error: status=%d body=%q", resp.StatusCode, string(respBody)),
		}
	}
}
